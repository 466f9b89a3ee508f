// Package workspace stages a PR's raw file contents in a temp directory so
// the analyzer can scan them from disk.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	domain "github.com/codesentry/codesentry/internal/domain/review"
)

// downloadParallelism bounds concurrent raw-content fetches per checkout.
const downloadParallelism = 4

// RawFetcher downloads one file's contents by its raw URL.
type RawFetcher interface {
	FetchRaw(ctx context.Context, token, rawURL string) ([]byte, error)
}

// Staging implements review.Workspace.
type Staging struct {
	Fetcher RawFetcher
	Log     *slog.Logger
}

func New(fetcher RawFetcher, log *slog.Logger) *Staging {
	if log == nil {
		log = slog.Default()
	}
	return &Staging{Fetcher: fetcher, Log: log}
}

// Materialize downloads every fetchable changed file into a fresh temp
// directory, preserving relative paths. Filenames that would escape the
// checkout are rejected; files without a raw locator are skipped. A file
// whose download fails is logged and skipped so one bad raw URL does not
// cost the scan of the rest; only staging failures (tempdir, writes) fail
// the checkout.
func (s *Staging) Materialize(ctx context.Context, token string, files []domain.ChangedFile) (*domain.Checkout, error) {
	dir, err := os.MkdirTemp("", "codesentry-*")
	if err != nil {
		return nil, fmt.Errorf("create checkout dir: %w", err)
	}
	checkout := &domain.Checkout{Dir: dir}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadParallelism)

	var mu sync.Mutex
	for _, f := range files {
		f := f
		if f.RawURL == "" {
			continue
		}
		rel, err := safeRelPath(f.Name)
		if err != nil {
			checkout.Remove()
			return nil, err
		}
		g.Go(func() error {
			data, err := s.Fetcher.FetchRaw(ctx, token, f.RawURL)
			if err != nil {
				s.Log.Warn("skipping undownloadable file", "file", f.Name, "error", err)
				return nil
			}
			dst := filepath.Join(dir, rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(dst, data, 0o644); err != nil {
				return err
			}
			mu.Lock()
			checkout.Paths = append(checkout.Paths, rel)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		checkout.Remove()
		return nil, err
	}

	s.Log.Info("checkout materialized", "dir", dir, "files", len(checkout.Paths))
	return checkout, nil
}

// safeRelPath rejects names that would write outside the checkout.
func safeRelPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("changed file has no name")
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe file path %q", name)
	}
	return cleaned, nil
}
