package review

import (
	"context"
	"os"
	"time"
)

// Store port: persistence for analyses, findings, the per-SHA model result
// cache and the per-installation rate limit window.
type Store interface {
	Init(ctx context.Context) error

	CreateAnalysis(ctx context.Context, a *Analysis) (int64, error)
	FinishAnalysis(ctx context.Context, id int64, status AnalysisStatus) error
	InsertFindings(ctx context.Context, analysisID int64, findings []Finding) error
	LatestAnalysisForPR(ctx context.Context, repo string, prNumber int) (*Analysis, error)
	CommentIDForPR(ctx context.Context, repo string, prNumber int) (int64, error)

	DismissedRules(ctx context.Context, repo string, prNumber int) ([]string, error)
	DismissFindings(ctx context.Context, analysisID int64, ruleID, reason string, at time.Time) (bool, error)

	CacheModelResult(ctx context.Context, headSHA, summary, flagsJSON string) error
	CachedModelResult(ctx context.Context, headSHA string) (*CachedResult, error)
	SaveModelUsage(ctx context.Context, analysisID int64, inputTokens, outputTokens int, costUSD float64) error

	// ReserveRateSlot applies the fixed-window limit atomically for one
	// installation: allow+init, allow+reset after expiry, allow+increment,
	// or deny without mutation at capacity.
	ReserveRateSlot(ctx context.Context, installationID int64, now time.Time) (bool, error)

	CostStats(ctx context.Context) (CostStats, error)
}

// TokenSource port: exchanges an installation id for an API token.
type TokenSource interface {
	InstallationToken(ctx context.Context, installationID int64) (string, error)
}

// DiffSource port: fetches the PR's changed files and commits.
type DiffSource interface {
	ChangedFiles(ctx context.Context, token, repo string, prNumber int) ([]ChangedFile, error)
	Commits(ctx context.Context, token, repo string, prNumber int) ([]Commit, error)
}

// CommentSurface port: posts and edits the PR report comment.
type CommentSurface interface {
	PostComment(ctx context.Context, token, repo string, prNumber int, body string) (int64, error)
	EditComment(ctx context.Context, token, repo string, commentID int64, body string) error
}

// Analyzer port: runs the static analyzer over a materialized checkout.
type Analyzer interface {
	Scan(ctx context.Context, workDir string, paths []string) AnalyzerResult
}

// Checkout holds downloaded raw PR files for the analyzer.
type Checkout struct {
	Dir   string
	Paths []string
}

// Remove deletes the checkout directory.
func (c *Checkout) Remove() {
	if c != nil && c.Dir != "" {
		_ = os.RemoveAll(c.Dir)
	}
}

// Workspace port: downloads raw file contents into a temp checkout.
type Workspace interface {
	Materialize(ctx context.Context, token string, files []ChangedFile) (*Checkout, error)
}

// PromptBuilder port: builds the token-budgeted review prompt.
// ok is false when no file has additions (nothing to summarize).
type PromptBuilder interface {
	Build(files []ChangedFile) (prompt string, ok bool)
}

// ArtifactStore port: archives raw analyzer output.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
