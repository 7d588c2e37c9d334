package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
)

func init() {
	llm.Register("gemini", func(model string) (llm.Client, error) {
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			return nil, errors.New("gemini: GEMINI_API_KEY environment variable not set")
		}
		sdk, err := genai.NewClient(context.Background(), option.WithAPIKey(key))
		if err != nil {
			return nil, fmt.Errorf("gemini: create client: %w", err)
		}
		return retrying(func(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
			return geminiGenerate(ctx, sdk.GenerativeModel(model), req)
		}), nil
	})
}

// geminiGenerate sends the last message as the prompt. Earlier messages,
// when present, become chat history.
func geminiGenerate(ctx context.Context, m *genai.GenerativeModel, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	geminiConfigure(m, req)
	history, prompt := geminiTurns(req.Messages)
	if prompt == nil {
		return llm.GenerateResponse{}, errors.New("gemini: no message to send")
	}

	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	if len(history) == 0 {
		resp, err = m.GenerateContent(ctx, prompt.Parts...)
	} else {
		chat := m.StartChat()
		chat.History = history
		resp, err = chat.SendMessage(ctx, prompt.Parts...)
	}
	if err != nil {
		return llm.GenerateResponse{}, geminiError(err)
	}
	return geminiResult(resp), nil
}

func geminiConfigure(m *genai.GenerativeModel, req llm.GenerateRequest) {
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		m.SetTemperature(float32(*req.Temperature))
	}
	if req.System != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
}

// geminiTurns splits messages into chat history and the final prompt.
// Assistant turns use Gemini's "model" role.
func geminiTurns(msgs []llm.Message) (history []*genai.Content, prompt *genai.Content) {
	for i, m := range msgs {
		c := &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Text)}}
		if m.Role == llm.RoleAssistant {
			c.Role = "model"
		}
		if i == len(msgs)-1 {
			return history, c
		}
		history = append(history, c)
	}
	return nil, nil
}

func geminiResult(resp *genai.GenerateContentResponse) llm.GenerateResponse {
	out := llm.GenerateResponse{StopReason: llm.StopReasonEndTurn}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{InputTokens: int(u.PromptTokenCount), OutputTokens: int(u.CandidatesTokenCount)}
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	c := resp.Candidates[0]
	switch c.FinishReason {
	case genai.FinishReasonMaxTokens:
		out.StopReason = llm.StopReasonMaxTokens
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		out.StopReason = llm.StopReasonContentFilter
	}
	if c.Content == nil {
		return out
	}
	var text strings.Builder
	for _, p := range c.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out.Text = text.String()
	return out
}

func geminiError(err error) error {
	var (
		blocked *genai.BlockedError
		apiErr  *googleapi.Error
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &blocked):
		return &llm.ContentFilterError{LLMError: llm.LLMError{Message: blocked.Error(), Cause: err}}
	case errors.As(err, &apiErr):
		return llm.FromStatus(apiErr.Code, apiErr.Message, err)
	default:
		return fmt.Errorf("gemini: %w", err)
	}
}
