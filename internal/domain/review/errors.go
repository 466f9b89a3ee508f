package review

import "errors"

// ErrNoCache indicates no cached model result exists for a head SHA.
var ErrNoCache = errors.New("no cached model result")

// ErrRateLimited indicates the installation exhausted its analysis window.
var ErrRateLimited = errors.New("analysis rate limit reached")

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")
