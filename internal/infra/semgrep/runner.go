// Package semgrep invokes the semgrep CLI and normalizes its JSON output.
package semgrep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	domain "github.com/codesentry/codesentry/internal/domain/review"
)

// DefaultTimeout bounds one analyzer invocation. Timed-out scans are killed
// and never retried.
const DefaultTimeout = 120 * time.Second

// Runner shells out to the semgrep binary with a custom rules directory.
type Runner struct {
	Binary   string
	RulesDir string
	Timeout  time.Duration
	Log      *slog.Logger
}

func NewRunner(binary, rulesDir string, timeout time.Duration, log *slog.Logger) *Runner {
	if binary == "" {
		binary = "semgrep"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Binary: binary, RulesDir: rulesDir, Timeout: timeout, Log: log}
}

// Scan runs semgrep over paths with workDir as the working directory.
// An empty path set short-circuits to an empty success without invoking
// the binary.
func (r *Runner) Scan(ctx context.Context, workDir string, paths []string) domain.AnalyzerResult {
	if len(paths) == 0 {
		return domain.AnalyzerResult{Success: true}
	}

	rules, err := filepath.Abs(r.RulesDir)
	if err != nil {
		rules = r.RulesDir
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := append([]string{"--config", rules, "--json", "--no-git-ignore", "--quiet"}, paths...)
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Log.Info("running semgrep", "files", len(paths))
	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		r.Log.Error("semgrep timed out", "timeout", r.Timeout)
		return domain.AnalyzerResult{Error: fmt.Sprintf("semgrep timed out after %ds", int(r.Timeout.Seconds()))}
	}
	if errors.Is(runErr, exec.ErrNotFound) {
		r.Log.Error("semgrep binary not found", "binary", r.Binary)
		return domain.AnalyzerResult{Error: "semgrep binary not found"}
	}
	if stderr.Len() > 0 {
		r.Log.Debug("semgrep stderr", "output", truncate(stderr.String(), 500))
	}

	out := stdout.Bytes()
	if len(bytes.TrimSpace(out)) == 0 {
		if runErr != nil {
			r.Log.Error("semgrep produced no output", "error", runErr)
			return domain.AnalyzerResult{Error: "semgrep produced no parseable output"}
		}
		return domain.AnalyzerResult{Success: true, Raw: out}
	}

	findings, err := parseResults(out, workDir)
	if err != nil {
		r.Log.Error("parse semgrep output", "error", err)
		return domain.AnalyzerResult{Error: "failed to parse semgrep JSON output", Raw: out}
	}

	r.Log.Info("semgrep finished", "findings", len(findings))
	return domain.AnalyzerResult{Success: true, Findings: findings, Raw: out}
}

type semgrepOutput struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
			Metadata struct {
				Category string `json:"category"`
			} `json:"metadata"`
		} `json:"extra"`
	} `json:"results"`
}

// parseResults normalizes the semgrep JSON document into findings: rule ids
// are the last dotted segment of the check id, severities map into
// error/warning/info, and paths become relative to the working directory.
func parseResults(data []byte, workDir string) ([]domain.Finding, error) {
	var out semgrepOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	findings := make([]domain.Finding, 0, len(out.Results))
	for _, res := range out.Results {
		path := res.Path
		if workDir != "" && strings.HasPrefix(path, workDir) {
			if rel, err := filepath.Rel(workDir, path); err == nil {
				path = rel
			}
		}
		category := res.Extra.Metadata.Category
		if category == "" {
			category = "unknown"
		}
		findings = append(findings, domain.Finding{
			RuleID:    lastSegment(res.CheckID),
			Category:  category,
			Severity:  mapSeverity(res.Extra.Severity),
			FilePath:  path,
			LineStart: res.Start.Line,
			Message:   res.Extra.Message,
		})
	}
	return findings, nil
}

func mapSeverity(raw string) domain.Severity {
	switch raw {
	case "", "WARNING":
		return domain.SeverityWarning
	case "ERROR":
		return domain.SeverityError
	case "INFO":
		return domain.SeverityInfo
	default:
		return domain.Severity(strings.ToLower(raw))
	}
}

func lastSegment(checkID string) string {
	if i := strings.LastIndex(checkID, "."); i >= 0 {
		return checkID[i+1:]
	}
	return checkID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
