// Package providers registers the text generation backends used by text
// nodes. Import it for its side effects:
//
//	import _ "github.com/ravi-parthasarathy/canvasflow/pkg/llm/providers"
package providers

import (
	"context"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
)

const (
	defaultMaxTokens = 4096
	// completeAttempts bounds the tries per node call, first one included.
	completeAttempts = 4
)

// generateFunc performs one provider call with no retry.
type generateFunc func(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error)

// retrying adapts a generateFunc to llm.Client, retrying transient errors
// (rate limits, server errors) with the llm package's backoff.
type retrying generateFunc

func (g retrying) Complete(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	var resp llm.GenerateResponse
	err := llm.WithRetry(ctx, completeAttempts, func() error {
		var err error
		resp, err = g(ctx, req)
		return err
	})
	return resp, err
}
