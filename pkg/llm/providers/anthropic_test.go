package providers

import (
	"errors"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
)

func TestAnthropicParams(t *testing.T) {
	temp := 0.2
	p := anthropicParams("claude-sonnet-4-5", llm.GenerateRequest{
		System:      "you name products",
		Messages:    []llm.Message{llm.UserMessage("a lamp"), {Role: llm.RoleAssistant, Text: "Lumo"}, llm.UserMessage("a chair")},
		Temperature: &temp,
	})
	if p.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", p.Model)
	}
	if p.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d, want %d", p.MaxTokens, defaultMaxTokens)
	}
	if len(p.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(p.Messages))
	}
	if p.Messages[1].Role != anthropicsdk.MessageParamRoleAssistant {
		t.Errorf("second role = %q, want assistant", p.Messages[1].Role)
	}
	if len(p.System) != 1 || p.System[0].Text != "you name products" {
		t.Errorf("system = %+v", p.System)
	}
	if !p.Temperature.Valid() || p.Temperature.Value != 0.2 {
		t.Errorf("temperature = %+v", p.Temperature)
	}
}

func TestAnthropicResult(t *testing.T) {
	msg := &anthropicsdk.Message{
		Content: []anthropicsdk.ContentBlockUnion{
			{Type: "text", Text: "Sit "},
			{Type: "text", Text: "Well"},
		},
		StopReason: anthropicsdk.StopReasonMaxTokens,
		Usage:      anthropicsdk.Usage{InputTokens: 12, OutputTokens: 3},
	}
	got := anthropicResult(msg)
	if got.Text != "Sit Well" {
		t.Errorf("text = %q", got.Text)
	}
	if got.StopReason != llm.StopReasonMaxTokens {
		t.Errorf("stop = %q", got.StopReason)
	}
	if got.Usage.InputTokens != 12 || got.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", got.Usage)
	}
}

func TestAnthropicParams_MaxTokens(t *testing.T) {
	p := anthropicParams("claude-haiku-4-5", llm.GenerateRequest{
		Messages:  []llm.Message{llm.UserMessage("a tagline")},
		MaxTokens: 64,
	})
	if p.MaxTokens != 64 {
		t.Errorf("max tokens = %d, want 64", p.MaxTokens)
	}
	if p.Temperature.Valid() || len(p.System) != 0 {
		t.Errorf("unset fields were filled: temperature=%+v system=%+v", p.Temperature, p.System)
	}
}

func TestAnthropicError_NonAPI(t *testing.T) {
	err := anthropicError(errors.New("dial tcp: refused"))
	if llm.Retryable(err) {
		t.Error("transport error should not be classified as retryable")
	}
	if anthropicError(nil) != nil {
		t.Error("anthropicError(nil) != nil")
	}
}

func TestAnthropicProvider_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := llm.NewClient("anthropic:claude-sonnet-4-5"); err == nil {
		t.Error("expected error without ANTHROPIC_API_KEY")
	}
}
