package executors

import (
	"context"
	"fmt"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

const (
	defaultTextModel     = "anthropic:claude-sonnet-4-5"
	defaultTextMaxTokens = 1024
)

// TextExecutor performs a single-turn LLM call for text nodes.
//
// Recognised action data: prompt, system, model ("provider:name"),
// max_tokens, temperature. The result is exposed as "text" and accumulated
// in the "texts" gallery.
type TextExecutor struct {
	DefaultModel string
	MaxTokens    int
	// NewClient resolves a model id to a client. Defaults to llm.NewClient;
	// pass an llm.Pool's Client method to share clients between nodes.
	NewClient func(modelID string) (llm.Client, error)
}

func (e *TextExecutor) Execute(ctx context.Context, in workflow.ExecutionInput) (workflow.ExecutionResult, error) {
	prompt, err := resolvePrompt(in)
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("text node %q: %w", in.NodeID, err)
	}

	model := in.ActionData["model"]
	if model == "" {
		model = e.DefaultModel
	}
	if model == "" {
		model = defaultTextModel
	}

	def := e.MaxTokens
	if def <= 0 {
		def = defaultTextMaxTokens
	}
	maxTokens, err := intAttr(in.ActionData, "max_tokens", def)
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("text node %q: %w", in.NodeID, err)
	}
	temp, err := floatAttr(in.ActionData, "temperature")
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("text node %q: %w", in.NodeID, err)
	}

	req := llm.GenerateRequest{
		Model:       model,
		System:      in.ActionData["system"],
		Messages:    []llm.Message{llm.UserMessage(prompt)},
		MaxTokens:   maxTokens,
		Temperature: temp,
	}

	newClient := e.NewClient
	if newClient == nil {
		newClient = llm.NewClient
	}
	client, err := newClient(model)
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("text node %q: create LLM client: %w", in.NodeID, err)
	}
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("text node %q: LLM call: %w", in.NodeID, err)
	}
	if resp.StopReason == llm.StopReasonContentFilter {
		return workflow.ExecutionResult{}, &llm.ContentFilterError{LLMError: llm.LLMError{
			Message: fmt.Sprintf("text node %q: response blocked by %s", in.NodeID, model),
		}}
	}

	return succeeded(workflow.Output{
		"text":      resp.Text,
		"texts":     []string{resp.Text},
		"model":     model,
		"truncated": resp.StopReason == llm.StopReasonMaxTokens,
		"usage": map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
	}), nil
}
