package executors

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
	"github.com/ravi-parthasarathy/canvasflow/pkg/llm/providers"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

// ImageGenerator is the part of *openai.Client the image executor uses.
type ImageGenerator interface {
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

// ImageExecutor generates images through the OpenAI images API.
//
// Recognised action data: prompt, model, size, quality, style, count. The
// generated images, as URLs or data URIs, are accumulated in the "images"
// gallery.
type ImageExecutor struct {
	Client  ImageGenerator
	Model   string
	Size    string
	Quality string
}

func (e *ImageExecutor) Execute(ctx context.Context, in workflow.ExecutionInput) (workflow.ExecutionResult, error) {
	if e.Client == nil {
		return workflow.ExecutionResult{}, fmt.Errorf("image node %q: no image client configured", in.NodeID)
	}
	prompt, err := resolvePrompt(in)
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("image node %q: %w", in.NodeID, err)
	}
	n, err := intAttr(in.ActionData, "count", 1)
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("image node %q: %w", in.NodeID, err)
	}

	req := openai.ImageRequest{
		Prompt:  prompt,
		Model:   e.model(in.ActionData["model"]),
		N:       n,
		Size:    firstNonEmpty(in.ActionData["size"], e.Size, openai.CreateImageSize1024x1024),
		Quality: firstNonEmpty(in.ActionData["quality"], e.Quality),
		Style:   in.ActionData["style"],
	}
	if req.Model != openai.CreateImageModelGptImage1 {
		req.ResponseFormat = openai.CreateImageResponseFormatURL
	}

	var resp openai.ImageResponse
	err = llm.WithRetry(ctx, 3, func() error {
		var callErr error
		resp, callErr = e.Client.CreateImage(ctx, req)
		return providers.MapOpenAIError(callErr)
	})
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("image node %q: generate: %w", in.NodeID, err)
	}

	images := make([]string, 0, len(resp.Data))
	var revised string
	for _, d := range resp.Data {
		switch {
		case d.URL != "":
			images = append(images, d.URL)
		case d.B64JSON != "":
			images = append(images, "data:image/png;base64,"+d.B64JSON)
		}
		if revised == "" {
			revised = d.RevisedPrompt
		}
	}
	if len(images) == 0 {
		return workflow.ExecutionResult{}, fmt.Errorf("image node %q: response contained no images", in.NodeID)
	}

	out := workflow.Output{"images": images, "prompt": prompt}
	if revised != "" {
		out["revised_prompt"] = revised
	}
	return succeeded(out), nil
}

// model picks the node's model when it names an OpenAI image model. Text
// model ids for other providers, e.g. from a "*" stylesheet rule, are ignored.
// imageModels are the models the images API accepts. A "*" stylesheet rule
// hands text model ids to image nodes too; those fall back to the default.
var imageModels = map[string]bool{
	openai.CreateImageModelDallE2:    true,
	openai.CreateImageModelDallE3:    true,
	openai.CreateImageModelGptImage1: true,
}

func (e *ImageExecutor) model(attr string) string {
	attr = strings.TrimPrefix(attr, "openai:")
	if imageModels[attr] {
		return attr
	}
	return firstNonEmpty(e.Model, openai.CreateImageModelDallE3)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
