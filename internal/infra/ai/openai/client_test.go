package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesentry/codesentry/internal/domain/ai"
)

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{
			"prompt_tokens":     1200,
			"completion_tokens": 300,
		},
	})
	return string(b)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		Model:        "gpt-4o-mini",
		CostPer1KIn:  0.0008,
		CostPer1KOut: 0.004,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{APIKey: "  "}, nil)
	assert.ErrorIs(t, err, ai.ErrMissingAPIKey)
}

func TestCompleteReportsUsageAndCost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(`{"summary": "ok"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "ok"}`, res.Text)
	assert.Equal(t, 1200, res.InputTokens)
	assert.Equal(t, 300, res.OutputTokens)
	// 1200/1000*0.0008 + 300/1000*0.004
	assert.InDelta(t, 0.00216, res.CostUSD, 1e-9)
}

func TestCompleteRetriesOnceOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "requests"}}`)
			return
		}
		fmt.Fprint(w, completionBody("second try"))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "second try", res.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteGivesUpAfterSecondRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "requests"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrUnavailable)
	assert.ErrorIs(t, err, ai.ErrQuotaExceeded)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteWrapsOtherFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "invalid request", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}
