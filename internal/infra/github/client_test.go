package github

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
)

func newTestClient(url string) *Client {
	c := NewClient(url, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Backoff = time.Millisecond
	return c
}

func TestChangedFilesFiltersExtensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/repo/pulls/42/files", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[
			{"filename": "app.py", "status": "modified", "changes": 10},
			{"filename": "README.md", "status": "modified", "changes": 3},
			{"filename": "web/ui.TSX", "status": "added", "changes": 7},
			{"filename": "Makefile", "status": "modified", "changes": 1}
		]`)
	}))
	defer srv.Close()

	files, err := newTestClient(srv.URL).ChangedFiles(context.Background(), "tok", "octo/repo", 42)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "app.py", files[0].Name)
	assert.Equal(t, "web/ui.TSX", files[1].Name)
}

func TestChangedFilesCapsAtLargest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var entries []map[string]any
		for i := 0; i < 60; i++ {
			entries = append(entries, map[string]any{
				"filename": fmt.Sprintf("f%02d.py", i),
				"changes":  i,
			})
		}
		json.NewEncoder(w).Encode(entries)
	}))
	defer srv.Close()

	files, err := newTestClient(srv.URL).ChangedFiles(context.Background(), "tok", "octo/repo", 1)
	require.NoError(t, err)
	require.Len(t, files, 50)
	// Largest files by the changes counter survive the cap.
	assert.Equal(t, "f59.py", files[0].Name)
	assert.Equal(t, 59, files[0].Changes)
	assert.Equal(t, 10, files[len(files)-1].Changes)
}

func TestCommitsPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page == "1" {
			var entries []map[string]any
			for i := 0; i < perPage; i++ {
				entries = append(entries, map[string]any{
					"sha":    fmt.Sprintf("sha%03d", i),
					"commit": map[string]string{"message": "work"},
				})
			}
			json.NewEncoder(w).Encode(entries)
			return
		}
		fmt.Fprint(w, `[{"sha": "last", "commit": {"message": "final touch"}}]`)
	}))
	defer srv.Close()

	commits, err := newTestClient(srv.URL).Commits(context.Background(), "tok", "octo/repo", 7)
	require.NoError(t, err)
	require.Len(t, commits, perPage+1)
	assert.Equal(t, "last", commits[perPage].SHA)
	assert.Equal(t, "final touch", commits[perPage].Message)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ChangedFiles(context.Background(), "tok", "octo/repo", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ChangedFiles(context.Background(), "tok", "octo/repo", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ChangedFiles(context.Background(), "tok", "octo/repo", 1)
	require.Error(t, err)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestPostComment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/octo/repo/issues/42/comments", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req["body"])

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 9001}`)
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).PostComment(context.Background(), "tok", "octo/repo", 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(9001), id)
}

func TestEditComment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/repos/octo/repo/issues/comments/9001", r.URL.Path)
		fmt.Fprint(w, `{"id": 9001}`)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).EditComment(context.Background(), "tok", "octo/repo", 9001, "updated")
	require.NoError(t, err)
}

func TestFetchRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, acceptRaw, r.Header.Get("Accept"))
		fmt.Fprint(w, "print('hi')\n")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	data, err := c.FetchRaw(context.Background(), "tok", srv.URL+"/raw/app.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))
}
