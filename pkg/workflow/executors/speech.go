package executors

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
	"github.com/ravi-parthasarathy/canvasflow/pkg/llm/providers"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

// SpeechGenerator is the part of *openai.Client the speech executor uses.
type SpeechGenerator interface {
	CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// SpeechExecutor turns text into narration with the OpenAI speech API and
// writes each clip under OutDir. Clip paths accumulate in the "audios"
// gallery.
type SpeechExecutor struct {
	Client SpeechGenerator
	OutDir string
	Model  string
	Voice  string
	Format string
}

func (e *SpeechExecutor) Execute(ctx context.Context, in workflow.ExecutionInput) (workflow.ExecutionResult, error) {
	if e.Client == nil {
		return workflow.ExecutionResult{}, fmt.Errorf("audio node %q: no speech client configured", in.NodeID)
	}
	input, err := resolvePrompt(in)
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("audio node %q: %w", in.NodeID, err)
	}
	speed, err := floatAttr(in.ActionData, "speed")
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("audio node %q: %w", in.NodeID, err)
	}

	format := openai.SpeechResponseFormat(firstNonEmpty(in.ActionData["format"], e.Format, string(openai.SpeechResponseFormatMp3)))
	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(firstNonEmpty(e.Model, string(openai.TTSModel1))),
		Input:          input,
		Voice:          openai.SpeechVoice(firstNonEmpty(in.ActionData["voice"], e.Voice, string(openai.VoiceAlloy))),
		Instructions:   in.ActionData["instructions"],
		ResponseFormat: format,
	}
	if speed != nil {
		req.Speed = *speed
	}

	var audio openai.RawResponse
	err = llm.WithRetry(ctx, 3, func() error {
		var callErr error
		audio, callErr = e.Client.CreateSpeech(ctx, req)
		return providers.MapOpenAIError(callErr)
	})
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("audio node %q: synthesize: %w", in.NodeID, err)
	}
	defer func() { _ = audio.Close() }()

	path, err := e.writeClip(in.NodeID, string(format), audio)
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("audio node %q: %w", in.NodeID, err)
	}
	return succeeded(workflow.Output{
		"audios": []string{path},
		"voice":  string(req.Voice),
	}), nil
}

func (e *SpeechExecutor) writeClip(nodeID, ext string, r io.Reader) (string, error) {
	dir := e.OutDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.%s", nodeID, uuid.NewString()[:8], ext))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create clip: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write clip: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write clip: %w", err)
	}
	return path, nil
}
