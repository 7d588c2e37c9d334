package llm

import "fmt"

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one plain-text turn. Node prompts are a single user message;
// assistant turns carry few-shot examples.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserMessage is a convenience constructor for a user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// GenerateRequest is the unified input to the LLM client.
type GenerateRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	// Temperature is left to the provider default when nil.
	Temperature *float64 `json:"temperature,omitempty"`
}

// StopReason explains why generation stopped.
type StopReason string

const (
	StopReasonEndTurn       StopReason = "end_turn"
	StopReasonMaxTokens     StopReason = "max_tokens"
	StopReasonContentFilter StopReason = "content_filter"
)

// Usage reports token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GenerateResponse is the unified output from the LLM client.
type GenerateResponse struct {
	Text       string     `json:"text"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// ParseModelID splits "provider:model-name" into (provider, modelName, nil).
// Both parts must be non-empty and the colon separator is required.
// Returns an error if the format is invalid.
func ParseModelID(id string) (provider, modelName string, err error) {
	for i, c := range id {
		if c == ':' {
			p := id[:i]
			m := id[i+1:]
			if p == "" {
				return "", "", fmt.Errorf("model ID %q: empty provider name", id)
			}
			if m == "" {
				return "", "", fmt.Errorf("model ID %q: empty model name", id)
			}
			return p, m, nil
		}
	}
	return "", "", fmt.Errorf("model ID %q: missing 'provider:model-name' format", id)
}
