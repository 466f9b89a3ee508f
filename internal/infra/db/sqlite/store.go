// Package sqlite is the default Store engine, backed by a single database
// file via mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	domain "github.com/codesentry/codesentry/internal/domain/review"
)

type Store struct {
	db *sql.DB
}

// Open creates the parent directory when missing and opens the database.
// SQLite has a single writer, so one connection avoids lock contention;
// the busy timeout covers the rest.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_fk=1", path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    installation_id INTEGER NOT NULL,
    repo_full_name TEXT NOT NULL,
    pr_number INTEGER NOT NULL,
    pr_head_sha TEXT NOT NULL,
    comment_id INTEGER,
    status TEXT NOT NULL DEFAULT 'pending',
    llm_summary TEXT,
    llm_flags_json TEXT,
    llm_input_tokens INTEGER NOT NULL DEFAULT 0,
    llm_output_tokens INTEGER NOT NULL DEFAULT 0,
    llm_cost_usd REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_repo_pr ON analyses(repo_full_name, pr_number);
CREATE INDEX IF NOT EXISTS idx_analyses_sha ON analyses(pr_head_sha);

CREATE TABLE IF NOT EXISTS findings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    analysis_id INTEGER NOT NULL REFERENCES analyses(id),
    rule_id TEXT NOT NULL,
    category TEXT NOT NULL,
    severity TEXT NOT NULL,
    file_path TEXT NOT NULL,
    line_start INTEGER NOT NULL,
    message TEXT NOT NULL,
    dismissed INTEGER NOT NULL DEFAULT 0,
    dismissed_reason TEXT,
    dismissed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_findings_analysis ON findings(analysis_id);

CREATE TABLE IF NOT EXISTS rate_limits (
    installation_id INTEGER PRIMARY KEY,
    window_start TIMESTAMP NOT NULL,
    count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    analysis_id INTEGER,
    repo_full_name TEXT NOT NULL,
    pr_number INTEGER NOT NULL,
    stage TEXT NOT NULL,
    message TEXT NOT NULL,
    details_json TEXT,
    created_at TIMESTAMP NOT NULL
);
`

func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) CreateAnalysis(ctx context.Context, a *domain.Analysis) (int64, error) {
	const q = `
INSERT INTO analyses
  (installation_id, repo_full_name, pr_number, pr_head_sha, comment_id, status, created_at)
VALUES (?,?,?,?,?,?,?)`
	res, err := s.db.ExecContext(ctx, q,
		a.InstallationID, a.RepoFullName, a.PRNumber, a.PRHeadSHA,
		nullInt64(a.CommentID), string(a.Status), a.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) FinishAnalysis(ctx context.Context, id int64, status domain.AnalysisStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE analyses SET status=? WHERE id=?`, string(status), id)
	return err
}

func (s *Store) InsertFindings(ctx context.Context, analysisID int64, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
INSERT INTO findings (analysis_id, rule_id, category, severity, file_path, line_start, message)
VALUES (?,?,?,?,?,?,?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range findings {
		if _, err := stmt.ExecContext(ctx, analysisID, f.RuleID, f.Category, string(f.Severity), f.FilePath, f.LineStart, f.Message); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LatestAnalysisForPR(ctx context.Context, repo string, prNumber int) (*domain.Analysis, error) {
	const q = `
SELECT id, installation_id, repo_full_name, pr_number, pr_head_sha, comment_id, status,
       llm_input_tokens, llm_output_tokens, llm_cost_usd, created_at
FROM analyses WHERE repo_full_name=? AND pr_number=? ORDER BY id DESC LIMIT 1`
	var (
		a       domain.Analysis
		comment sql.NullInt64
		status  string
	)
	err := s.db.QueryRowContext(ctx, q, repo, prNumber).Scan(
		&a.ID, &a.InstallationID, &a.RepoFullName, &a.PRNumber, &a.PRHeadSHA,
		&comment, &status, &a.LLMInputTokens, &a.LLMOutputTokens, &a.LLMCostUSD, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CommentID = comment.Int64
	a.Status = domain.AnalysisStatus(status)
	return &a, nil
}

func (s *Store) CommentIDForPR(ctx context.Context, repo string, prNumber int) (int64, error) {
	const q = `
SELECT comment_id FROM analyses
WHERE repo_full_name=? AND pr_number=? AND comment_id IS NOT NULL
ORDER BY id DESC LIMIT 1`
	var id int64
	err := s.db.QueryRowContext(ctx, q, repo, prNumber).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// DismissedRules collects every rule id ever dismissed on this PR, across
// all of its analyses. That keeps dismissals effective on new head SHAs.
func (s *Store) DismissedRules(ctx context.Context, repo string, prNumber int) ([]string, error) {
	const q = `
SELECT DISTINCT f.rule_id
FROM findings f
JOIN analyses a ON a.id = f.analysis_id
WHERE a.repo_full_name=? AND a.pr_number=? AND f.dismissed=1`
	rows, err := s.db.QueryContext(ctx, q, repo, prNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) DismissFindings(ctx context.Context, analysisID int64, ruleID, reason string, at time.Time) (bool, error) {
	const q = `
UPDATE findings SET dismissed=1, dismissed_reason=?, dismissed_at=?
WHERE analysis_id=? AND rule_id=? AND dismissed=0`
	res, err := s.db.ExecContext(ctx, q, reason, at.UTC(), analysisID, ruleID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CacheModelResult writes the model output onto the newest analysis row for
// the SHA in one conditional statement, so concurrent writers cannot
// interleave a read-then-write.
func (s *Store) CacheModelResult(ctx context.Context, headSHA, summary, flagsJSON string) error {
	const q = `
UPDATE analyses SET llm_summary=?, llm_flags_json=?
WHERE id = (SELECT id FROM analyses WHERE pr_head_sha=? ORDER BY id DESC LIMIT 1)`
	_, err := s.db.ExecContext(ctx, q, summary, flagsJSON, headSHA)
	return err
}

func (s *Store) CachedModelResult(ctx context.Context, headSHA string) (*domain.CachedResult, error) {
	const q = `
SELECT llm_summary, COALESCE(llm_flags_json, '')
FROM analyses
WHERE pr_head_sha=? AND llm_summary IS NOT NULL
ORDER BY id DESC LIMIT 1`
	var summary, flagsJSON string
	err := s.db.QueryRowContext(ctx, q, headSHA).Scan(&summary, &flagsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoCache
	}
	if err != nil {
		return nil, err
	}
	return &domain.CachedResult{Summary: summary, Flags: decodeFlags(flagsJSON)}, nil
}

func (s *Store) SaveModelUsage(ctx context.Context, analysisID int64, inputTokens, outputTokens int, costUSD float64) error {
	const q = `
UPDATE analyses SET llm_input_tokens=?, llm_output_tokens=?, llm_cost_usd=? WHERE id=?`
	_, err := s.db.ExecContext(ctx, q, inputTokens, outputTokens, costUSD, analysisID)
	return err
}

const (
	rateWindow   = 3600 * time.Second
	rateCapacity = 20
)

// ReserveRateSlot applies the fixed window inside one transaction. SQLite
// serializes writers, which makes the read-check-write safe here.
func (s *Store) ReserveRateSlot(ctx context.Context, installationID int64, now time.Time) (allowed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	var windowStart time.Time
	var count int
	row := tx.QueryRowContext(ctx,
		`SELECT window_start, count FROM rate_limits WHERE installation_id=?`, installationID)
	switch scanErr := row.Scan(&windowStart, &count); {
	case errors.Is(scanErr, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rate_limits (installation_id, window_start, count) VALUES (?,?,1)`,
			installationID, now.UTC())
		return err == nil, err
	case scanErr != nil:
		return false, scanErr
	}

	if now.Sub(windowStart) >= rateWindow {
		_, err = tx.ExecContext(ctx,
			`UPDATE rate_limits SET window_start=?, count=1 WHERE installation_id=?`,
			now.UTC(), installationID)
		return err == nil, err
	}
	if count >= rateCapacity {
		return false, nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE rate_limits SET count=count+1 WHERE installation_id=?`, installationID)
	return err == nil, err
}

func (s *Store) CostStats(ctx context.Context) (domain.CostStats, error) {
	const q = `
SELECT COUNT(*), COALESCE(SUM(llm_cost_usd), 0)
FROM analyses WHERE status='complete'`
	var stats domain.CostStats
	if err := s.db.QueryRowContext(ctx, q).Scan(&stats.TotalAnalyses, &stats.TotalCostUSD); err != nil {
		return domain.CostStats{}, err
	}
	finishCostStats(&stats)
	return stats, nil
}

// decodeFlags degrades malformed cached JSON to an empty list instead of
// failing the cache read.
func decodeFlags(flagsJSON string) []domain.BehavioralFlag {
	if flagsJSON == "" {
		return nil
	}
	var flags []domain.BehavioralFlag
	if err := json.Unmarshal([]byte(flagsJSON), &flags); err != nil {
		return nil
	}
	return flags
}

func finishCostStats(stats *domain.CostStats) {
	if stats.TotalAnalyses > 0 {
		stats.AverageCostUSD = round6(stats.TotalCostUSD / float64(stats.TotalAnalyses))
	}
	stats.TotalCostUSD = round6(stats.TotalCostUSD)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
