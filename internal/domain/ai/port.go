package ai

import "context"

// Result of one model call.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Client port: one opaque prompt-in, text-out model call.
type Client interface {
	Complete(ctx context.Context, prompt string) (Result, error)
}
