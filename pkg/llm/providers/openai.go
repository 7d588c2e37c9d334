package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
)

func init() {
	llm.Register("openai", func(model string) (llm.Client, error) {
		sdk, err := NewOpenAISDK()
		if err != nil {
			return nil, err
		}
		return retrying(func(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
			resp, err := sdk.CreateChatCompletion(ctx, buildChatRequest(model, req))
			if err != nil {
				return llm.GenerateResponse{}, MapOpenAIError(err)
			}
			return convertOpenAIResponse(resp), nil
		}), nil
	})
}

// NewOpenAISDK builds a go-openai client from OPENAI_API_KEY and, when set,
// OPENAI_BASE_URL. The image and speech executors share it.
func NewOpenAISDK() (*openai.Client, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY environment variable not set")
	}
	cfg := openai.DefaultConfig(key)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	return openai.NewClientWithConfig(cfg), nil
}

func buildChatRequest(modelName string, req llm.GenerateRequest) openai.ChatCompletionRequest {
	maxTokens := defaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := openai.ChatCompletionRequest{
		Model:     modelName,
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Messages, req.System),
	}
	if req.Temperature != nil {
		params.Temperature = float32(*req.Temperature)
	}
	return params
}

// ─── message conversion ───────────────────────────────────────────────────────

// buildMessages converts unified messages to OpenAI's chat completion format,
// with the system prompt first.
func buildMessages(msgs []llm.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == llm.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	return out
}

// convertOpenAIResponse maps an OpenAI response to the unified GenerateResponse.
func convertOpenAIResponse(resp openai.ChatCompletionResponse) llm.GenerateResponse {
	out := llm.GenerateResponse{
		StopReason: llm.StopReasonEndTurn,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	switch choice.FinishReason {
	case openai.FinishReasonLength:
		out.StopReason = llm.StopReasonMaxTokens
	case openai.FinishReasonContentFilter:
		out.StopReason = llm.StopReasonContentFilter
	}
	return out
}

// ─── error mapping ────────────────────────────────────────────────────────────

// MapOpenAIError classifies a go-openai error into the llm error taxonomy so
// callers can use llm.Retryable on it.
func MapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.FromStatus(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.FromStatus(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	return fmt.Errorf("openai: %w", err)
}
