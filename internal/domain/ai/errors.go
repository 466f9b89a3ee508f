package ai

import "errors"

// ErrQuotaExceeded indicates the model provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("model quota exceeded")

// ErrUnavailable indicates the model could not produce a response after the
// retry budget; the run continues without a summary.
var ErrUnavailable = errors.New("model unavailable")

// ErrMissingAPIKey indicates the model credential is not configured. This is
// a startup configuration error, not a per-request failure.
var ErrMissingAPIKey = errors.New("model api key not configured")
