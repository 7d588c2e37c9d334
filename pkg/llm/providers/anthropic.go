package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
)

// statusOverloaded is Anthropic's "overloaded" status; it is retried like 503.
const statusOverloaded = 529

func init() {
	llm.Register("anthropic", func(model string) (llm.Client, error) {
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, errors.New("anthropic: ANTHROPIC_API_KEY environment variable not set")
		}
		sdk := anthropicsdk.NewClient(option.WithAPIKey(key))
		return retrying(func(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
			msg, err := sdk.Messages.New(ctx, anthropicParams(model, req))
			if err != nil {
				return llm.GenerateResponse{}, anthropicError(err)
			}
			return anthropicResult(msg), nil
		}), nil
	})
}

func anthropicParams(model string, req llm.GenerateRequest) anthropicsdk.MessageNewParams {
	p := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: defaultMaxTokens,
		Messages:  make([]anthropicsdk.MessageParam, 0, len(req.Messages)),
	}
	if req.MaxTokens > 0 {
		p.MaxTokens = int64(req.MaxTokens)
	}
	for _, m := range req.Messages {
		text := anthropicsdk.NewTextBlock(m.Text)
		if m.Role == llm.RoleAssistant {
			p.Messages = append(p.Messages, anthropicsdk.NewAssistantMessage(text))
		} else {
			p.Messages = append(p.Messages, anthropicsdk.NewUserMessage(text))
		}
	}
	if req.System != "" {
		p.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		p.Temperature = param.NewOpt(*req.Temperature)
	}
	return p
}

func anthropicResult(msg *anthropicsdk.Message) llm.GenerateResponse {
	out := llm.GenerateResponse{
		StopReason: llm.StopReasonEndTurn,
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out.Text = text.String()

	switch msg.StopReason {
	case anthropicsdk.StopReasonMaxTokens:
		out.StopReason = llm.StopReasonMaxTokens
	case anthropicsdk.StopReasonRefusal:
		out.StopReason = llm.StopReasonContentFilter
	}
	return out
}

func anthropicError(err error) error {
	var apiErr *anthropicsdk.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		status := apiErr.StatusCode
		if status == statusOverloaded {
			status = 503
		}
		return llm.FromStatus(status, apiErr.Error(), err)
	default:
		return fmt.Errorf("anthropic: %w", err)
	}
}
