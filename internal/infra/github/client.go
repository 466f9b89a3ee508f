package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codesentry/codesentry/internal/domain/review"
)

const (
	DefaultBaseURL = "https://api.github.com"

	acceptJSON = "application/vnd.github+json"
	acceptRaw  = "application/vnd.github.raw+json"
	apiVersion = "2022-11-28"

	maxAttempts    = 3
	initialBackoff = time.Second

	// The review pipeline only looks at script-language sources, and a PR
	// touching more than this many of them is analyzed by its largest files.
	maxChangedFiles = 50
	perPage         = 100
)

var reviewedExtensions = map[string]bool{
	".py":  true,
	".ts":  true,
	".tsx": true,
	".js":  true,
	".jsx": true,
}

// Client talks to the GitHub REST API with bearer tokens supplied per call.
// It implements review.DiffSource and review.CommentSurface.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Backoff time.Duration
	Log     *slog.Logger
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Backoff: initialBackoff,
		Log:     log,
	}
}

// ChangedFiles returns the PR's changed files filtered to reviewable
// extensions. When the filtered set exceeds the cap, the largest files by
// the API's changes counter win.
func (c *Client) ChangedFiles(ctx context.Context, token, repo string, prNumber int) ([]review.ChangedFile, error) {
	var all []review.ChangedFile
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/pulls/%d/files?per_page=%d&page=%d", c.BaseURL, repo, prNumber, perPage, page)
		var batch []review.ChangedFile
		if err := c.getJSON(ctx, token, url, &batch); err != nil {
			return nil, fmt.Errorf("list pull request files: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			break
		}
	}

	files := all[:0]
	for _, f := range all {
		if reviewedExtensions[strings.ToLower(filepath.Ext(f.Name))] {
			files = append(files, f)
		}
	}
	if len(files) > maxChangedFiles {
		sort.SliceStable(files, func(i, j int) bool { return files[i].Changes > files[j].Changes })
		files = files[:maxChangedFiles]
	}
	return files, nil
}

// Commits returns the PR's commits as {sha, message} pairs.
func (c *Client) Commits(ctx context.Context, token, repo string, prNumber int) ([]review.Commit, error) {
	type commitEntry struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
		} `json:"commit"`
	}
	var out []review.Commit
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/pulls/%d/commits?per_page=%d&page=%d", c.BaseURL, repo, prNumber, perPage, page)
		var batch []commitEntry
		if err := c.getJSON(ctx, token, url, &batch); err != nil {
			return nil, fmt.Errorf("list pull request commits: %w", err)
		}
		for _, e := range batch {
			out = append(out, review.Commit{SHA: e.SHA, Message: e.Commit.Message})
		}
		if len(batch) < perPage {
			break
		}
	}
	return out, nil
}

// PostComment creates an issue comment on the PR and returns its id.
func (c *Client) PostComment(ctx context.Context, token, repo string, prNumber int, body string) (int64, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.BaseURL, repo, prNumber)
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.sendJSON(ctx, http.MethodPost, token, url, map[string]string{"body": body}, &out); err != nil {
		return 0, fmt.Errorf("post comment: %w", err)
	}
	return out.ID, nil
}

// EditComment replaces the body of an existing issue comment.
func (c *Client) EditComment(ctx context.Context, token, repo string, commentID int64, body string) error {
	url := fmt.Sprintf("%s/repos/%s/issues/comments/%d", c.BaseURL, repo, commentID)
	if err := c.sendJSON(ctx, http.MethodPatch, token, url, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("edit comment: %w", err)
	}
	return nil
}

// FetchRaw downloads a changed file's contents via its raw_url.
func (c *Client) FetchRaw(ctx context.Context, token, rawURL string) ([]byte, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		c.decorate(req, token, acceptRaw)
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch raw content: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch raw content: %w", httpError(resp))
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) getJSON(ctx context.Context, token, url string, out any) error {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		c.decorate(req, token, acceptJSON)
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) sendJSON(ctx context.Context, method, token, url string, payload, out any) error {
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}
	resp, err := c.do(ctx, func() (*http.Request, error) {
		var body io.Reader
		if raw != nil {
			body = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		c.decorate(req, token, acceptJSON)
		if raw != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return httpError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// do runs a request, retrying on transport errors and 5xx responses with a
// doubling backoff. Client errors (4xx) are returned to the caller on the
// first attempt.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = initialBackoff
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := c.HTTP.Do(req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = httpError(resp)
			resp.Body.Close()
		}
		if attempt == maxAttempts {
			break
		}
		c.Log.Warn("github request failed, retrying",
			"method", req.Method, "url", req.URL.Path, "attempt", attempt, "error", lastErr)
		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *Client) decorate(req *http.Request, token, accept string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
}

func httpError(resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(excerpt))
	if msg == "" {
		return fmt.Errorf("github responded %s", resp.Status)
	}
	return fmt.Errorf("github responded %s: %s", resp.Status, msg)
}
