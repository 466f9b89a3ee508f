package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/codesentry/codesentry/internal/domain/ai"
)

const (
	defaultModel = "gpt-4o-mini"
	maxTokens    = 2048

	// How long to wait before the single retry on a rate-limited call.
	retryBackoff = 2 * time.Second
)

// Client calls a chat-completion API and reports token usage plus the
// estimated cost of each call. It implements ai.Client.
type Client struct {
	*openai.Client
	Model        string
	CostPer1KIn  float64
	CostPer1KOut float64
	Log          *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	CostPer1KIn  float64
	CostPer1KOut float64
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ai.ErrMissingAPIKey
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		Client:       openai.NewClientWithConfig(apiCfg),
		Model:        cfg.Model,
		CostPer1KIn:  cfg.CostPer1KIn,
		CostPer1KOut: cfg.CostPer1KOut,
		Log:          log,
		sleep:        sleepCtx,
	}, nil
}

// Complete sends the prompt as a single user message and returns the raw
// response text. A rate-limited call is retried once after a short pause;
// a second rejection, or any other API failure, surfaces as
// ai.ErrUnavailable so callers can degrade instead of aborting.
func (c *Client) Complete(ctx context.Context, promptText string) (ai.Result, error) {
	model := c.Model
	if model == "" {
		model = defaultModel
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: promptText},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = c.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		if !isRateLimited(err) {
			c.Log.Error("chat completion failed", "model", model, "error", err)
			return ai.Result{}, errors.Join(ai.ErrUnavailable, err)
		}
		if attempt > 0 {
			c.Log.Error("chat completion rate limited after retry", "model", model)
			return ai.Result{}, errors.Join(ai.ErrUnavailable, ai.ErrQuotaExceeded)
		}
		c.Log.Warn("chat completion rate limited, retrying", "model", model, "backoff", retryBackoff)
		if serr := c.sleep(ctx, retryBackoff); serr != nil {
			return ai.Result{}, serr
		}
	}

	if len(resp.Choices) == 0 {
		return ai.Result{}, errors.Join(ai.ErrUnavailable, errors.New("empty completion response"))
	}

	res := ai.Result{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	res.CostUSD = float64(res.InputTokens)/1000*c.CostPer1KIn + float64(res.OutputTokens)/1000*c.CostPer1KOut
	c.Log.Info("chat completion usage",
		"model", model,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
		"estimated_cost_usd", res.CostUSD,
	)
	return res, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
