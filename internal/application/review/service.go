package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/codesentry/codesentry/internal/application"
	"github.com/codesentry/codesentry/internal/domain/ai"
	"github.com/codesentry/codesentry/internal/domain/detect"
	domain "github.com/codesentry/codesentry/internal/domain/review"
	"github.com/codesentry/codesentry/internal/domain/runlog"
	"github.com/codesentry/codesentry/internal/middleware"
	"github.com/codesentry/codesentry/internal/render"
)

// Service implements the PR review use-cases. One call handles one webhook
// event end to end; concurrent calls for unrelated PRs are independent.
// Safe for concurrent use.
type Service struct {
	Store     domain.Store
	Tokens    domain.TokenSource
	Diffs     domain.DiffSource
	Comments  domain.CommentSurface
	Analyzer  domain.Analyzer
	Workspace domain.Workspace
	Prompts   domain.PromptBuilder
	Model     ai.Client             // nil disables the behavioral summary
	Artifacts domain.ArtifactStore  // nil disables raw-output archiving
	RunLog    runlog.Repository     // nil disables the error audit trail
	Detector  *detect.Detector
	Clock     application.Clock
	Log       *slog.Logger

	modelCalls singleflight.Group
}

// PullRequestEvent is the consumed slice of a pull_request webhook.
type PullRequestEvent struct {
	InstallationID int64
	RepoFullName   string
	PRNumber       int
	HeadSHA        string
	Action         string
}

// CommentEvent is the consumed slice of an issue_comment webhook on a PR.
type CommentEvent struct {
	InstallationID int64
	RepoFullName   string
	PRNumber       int
	Body           string
	AuthorIsBot    bool
}

// HandlePullRequestUntilDone runs the pipeline on context.Background so the
// webhook response returning early does not cancel the run. Meant to be
// called from a goroutine; a panicking run must never take the process down.
func (s *Service) HandlePullRequestUntilDone(ev PullRequestEvent) {
	defer s.recoverRun("pull_request", ev.RepoFullName, ev.PRNumber)
	_ = s.HandlePullRequest(context.Background(), ev)
}

// HandleDismissUntilDone is the background wrapper for dismiss comments.
func (s *Service) HandleDismissUntilDone(ev CommentEvent) {
	defer s.recoverRun("issue_comment", ev.RepoFullName, ev.PRNumber)
	_ = s.HandleDismiss(context.Background(), ev)
}

// HandlePullRequest runs the full analysis pipeline for one PR event.
// Failures after the placeholder comment exists always resolve the comment
// to a terminal body; it is never left saying "analyzing".
func (s *Service) HandlePullRequest(ctx context.Context, ev PullRequestEvent) error {
	log := s.Log.With(
		"run_id", uuid.NewString(),
		"repo", ev.RepoFullName,
		"pr", ev.PRNumber,
		"sha", shortSHA(ev.HeadSHA),
	)
	log.Info("pull request event", "action", ev.Action)

	token, err := s.Tokens.InstallationToken(ctx, ev.InstallationID)
	if err != nil {
		s.audit(ctx, 0, ev.RepoFullName, ev.PRNumber, "auth", err.Error())
		return fmt.Errorf("installation token: %w", err)
	}

	commentID, err := s.ensureComment(ctx, log, token, ev)
	if err != nil {
		s.audit(ctx, 0, ev.RepoFullName, ev.PRNumber, "comment", err.Error())
		return fmt.Errorf("place report comment: %w", err)
	}
	log.Info("using report comment", "comment_id", commentID)

	analysisID, runErr := s.run(ctx, log, token, ev, commentID)
	switch {
	case runErr == nil:
		middleware.AnalysisRuns.WithLabelValues("complete").Inc()
		return nil
	case errors.Is(runErr, domain.ErrRateLimited):
		middleware.AnalysisRuns.WithLabelValues("rate_limited").Inc()
		return nil
	}
	middleware.AnalysisRuns.WithLabelValues("error").Inc()

	log.Error("analysis run failed", "error", runErr)
	s.audit(ctx, analysisID, ev.RepoFullName, ev.PRNumber, "run", runErr.Error())
	if analysisID != 0 {
		if err := s.Store.FinishAnalysis(ctx, analysisID, domain.StatusError); err != nil {
			log.Error("mark analysis errored", "error", err)
		}
	}
	if err := s.Comments.EditComment(ctx, token, ev.RepoFullName, commentID, render.ErrorBody); err != nil {
		log.Error("update comment with error status", "error", err)
	}
	return runErr
}

// run executes the pipeline once the report comment is in place. It returns
// the analysis id (0 if none was created) so the caller can mark failures.
// A panic anywhere in the pipeline surfaces as a run error, so the caller's
// failure path still records it and resolves the comment.
func (s *Service) run(ctx context.Context, log *slog.Logger, token string, ev PullRequestEvent, commentID int64) (analysisID int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis run panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("analysis run panicked: %v", r)
		}
	}()

	allowed, err := s.Store.ReserveRateSlot(ctx, ev.InstallationID, s.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("reserve rate slot: %w", err)
	}
	if !allowed {
		log.Warn("rate limit reached", "installation", ev.InstallationID)
		if err := s.Comments.EditComment(ctx, token, ev.RepoFullName, commentID, render.RateLimitedBody); err != nil {
			log.Error("post rate limit notice", "error", err)
		}
		return 0, domain.ErrRateLimited
	}

	analysisID, err = s.Store.CreateAnalysis(ctx, &domain.Analysis{
		InstallationID: ev.InstallationID,
		RepoFullName:   ev.RepoFullName,
		PRNumber:       ev.PRNumber,
		PRHeadSHA:      ev.HeadSHA,
		CommentID:      commentID,
		Status:         domain.StatusPending,
		CreatedAt:      s.Clock.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("create analysis: %w", err)
	}

	files, err := s.Diffs.ChangedFiles(ctx, token, ev.RepoFullName, ev.PRNumber)
	if err != nil {
		return analysisID, fmt.Errorf("fetch changed files: %w", err)
	}
	commits, err := s.Diffs.Commits(ctx, token, ev.RepoFullName, ev.PRNumber)
	if err != nil {
		return analysisID, fmt.Errorf("fetch commits: %w", err)
	}

	signals := s.Detector.DetectAIFiles(files, commits)
	if err := s.Comments.EditComment(ctx, token, ev.RepoFullName, commentID, render.ProgressBody(signals)); err != nil {
		return analysisID, fmt.Errorf("post progress comment: %w", err)
	}

	// The analyzer runs over every changed file, not just the flagged ones.
	result := s.scanFiles(ctx, log, token, files)
	if !result.Success {
		log.Warn("analyzer failed", "error", result.Error)
	}
	findings := result.Findings

	if err := s.Store.InsertFindings(ctx, analysisID, findings); err != nil {
		return analysisID, fmt.Errorf("persist findings: %w", err)
	}
	s.archiveRaw(ctx, log, analysisID, result.Raw)

	dismissed, err := s.Store.DismissedRules(ctx, ev.RepoFullName, ev.PRNumber)
	if err != nil {
		return analysisID, fmt.Errorf("load dismissed rules: %w", err)
	}
	findings = domain.ExcludeRules(findings, dismissed)

	interim := render.Comment(render.Input{
		Signals:       signals,
		Findings:      findings,
		HeadSHA:       ev.HeadSHA,
		AnalyzerError: result.Error,
		Interim:       true,
	})
	if err := s.Comments.EditComment(ctx, token, ev.RepoFullName, commentID, interim); err != nil {
		return analysisID, fmt.Errorf("post interim comment: %w", err)
	}

	summary, flags := s.behavioralSummary(ctx, log, analysisID, ev.HeadSHA, files)

	if len(flags) > 0 && len(findings) > 0 {
		flags = domain.DeduplicateFlags(flags, findings)
	}
	flags = domain.GateByEvidence(flags, findings)

	final := render.Comment(render.Input{
		Signals:       signals,
		Findings:      findings,
		Flags:         flags,
		Summary:       summary,
		HeadSHA:       ev.HeadSHA,
		AnalyzerError: result.Error,
	})
	if err := s.Comments.EditComment(ctx, token, ev.RepoFullName, commentID, final); err != nil {
		return analysisID, fmt.Errorf("post final comment: %w", err)
	}

	status := domain.StatusComplete
	if !result.Success {
		status = domain.StatusError
		s.audit(ctx, analysisID, ev.RepoFullName, ev.PRNumber, "analyze", result.Error)
	}
	if err := s.Store.FinishAnalysis(ctx, analysisID, status); err != nil {
		return analysisID, fmt.Errorf("finish analysis: %w", err)
	}

	log.Info("analysis finished",
		"status", status,
		"ai_files", len(signals),
		"findings", len(findings),
		"flags", len(flags),
	)
	return analysisID, nil
}

// HandleDismiss processes a PR reply comment that may carry a dismiss
// command. Bot authors are ignored to avoid reacting to our own comments.
func (s *Service) HandleDismiss(ctx context.Context, ev CommentEvent) error {
	if ev.AuthorIsBot {
		return nil
	}
	cmd, ok := domain.ParseDismissCommand(ev.Body)
	if !ok {
		return nil
	}

	log := s.Log.With("repo", ev.RepoFullName, "pr", ev.PRNumber, "rule", cmd.RuleID)

	token, err := s.Tokens.InstallationToken(ctx, ev.InstallationID)
	if err != nil {
		return fmt.Errorf("installation token: %w", err)
	}

	latest, err := s.Store.LatestAnalysisForPR(ctx, ev.RepoFullName, ev.PRNumber)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load latest analysis: %w", err)
	}
	if latest == nil {
		_, err := s.Comments.PostComment(ctx, token, ev.RepoFullName, ev.PRNumber, render.NoActiveFindingBody(cmd.RuleID))
		return err
	}

	changed, err := s.Store.DismissFindings(ctx, latest.ID, cmd.RuleID, cmd.Reason, s.Clock.Now())
	if err != nil {
		return fmt.Errorf("dismiss findings: %w", err)
	}

	body := render.NoActiveFindingBody(cmd.RuleID)
	if changed {
		body = render.DismissedBody(cmd.RuleID)
		log.Info("rule dismissed", "reason", cmd.Reason)
	} else {
		log.Info("dismiss matched no active finding")
	}
	_, err = s.Comments.PostComment(ctx, token, ev.RepoFullName, ev.PRNumber, body)
	return err
}

// Stats returns aggregate model spend over complete analyses.
func (s *Service) Stats(ctx context.Context) (domain.CostStats, error) {
	return s.Store.CostStats(ctx)
}

// RecentErrors lists the newest run-error audit rows.
func (s *Service) RecentErrors(ctx context.Context, limit int) ([]*runlog.RunError, error) {
	if s.RunLog == nil {
		return nil, nil
	}
	return s.RunLog.ListRecent(ctx, limit)
}

// ensureComment reuses the PR's previous report comment when it still
// exists, otherwise posts a fresh placeholder.
func (s *Service) ensureComment(ctx context.Context, log *slog.Logger, token string, ev PullRequestEvent) (int64, error) {
	existing, err := s.Store.CommentIDForPR(ctx, ev.RepoFullName, ev.PRNumber)
	if err != nil {
		log.Error("lookup previous comment", "error", err)
	}
	if existing != 0 {
		if err := s.Comments.EditComment(ctx, token, ev.RepoFullName, existing, render.AnalyzingBody); err == nil {
			return existing, nil
		}
		log.Warn("previous comment gone, posting a new one", "comment_id", existing)
	}
	return s.Comments.PostComment(ctx, token, ev.RepoFullName, ev.PRNumber, render.AnalyzingBody)
}

// scanFiles stages the changed files in a temp checkout and runs the
// analyzer over it. Staging failures degrade to an analyzer error result so
// the run keeps going.
func (s *Service) scanFiles(ctx context.Context, log *slog.Logger, token string, files []domain.ChangedFile) domain.AnalyzerResult {
	checkout, err := s.Workspace.Materialize(ctx, token, files)
	if err != nil {
		log.Error("materialize checkout", "error", err)
		return domain.AnalyzerResult{Error: "failed to stage changed files for analysis"}
	}
	defer checkout.Remove()
	return s.Analyzer.Scan(ctx, checkout.Dir, checkout.Paths)
}

// behavioralSummary returns the model's summary and flags for the head SHA,
// from cache when available. Concurrent runs on the same SHA share one model
// call. Model failures degrade to an absent summary.
func (s *Service) behavioralSummary(ctx context.Context, log *slog.Logger, analysisID int64, headSHA string, files []domain.ChangedFile) (string, []domain.BehavioralFlag) {
	cached, err := s.Store.CachedModelResult(ctx, headSHA)
	if err == nil {
		log.Info("model cache hit")
		return cached.Summary, cached.Flags
	}
	if !errors.Is(err, domain.ErrNoCache) {
		log.Error("model cache lookup failed", "error", err)
	}

	if s.Model == nil {
		log.Warn("behavioral summary disabled: model not configured")
		return "", nil
	}

	prompt, ok := s.Prompts.Build(files)
	if !ok {
		log.Info("behavioral summary skipped: nothing to summarize")
		return "", nil
	}

	type modelOutput struct {
		summary string
		flags   []domain.BehavioralFlag
	}
	v, err, shared := s.modelCalls.Do(headSHA, func() (any, error) {
		res, err := s.Model.Complete(ctx, prompt)
		if err != nil {
			return nil, err
		}
		parsed := domain.ParseModelResponse(res.Text)
		if parsed.Outcome != domain.ParsedOK {
			log.Warn("model output degraded", "outcome", int(parsed.Outcome))
		}
		if err := s.Store.CacheModelResult(ctx, headSHA, parsed.Summary, flagsToJSON(parsed.Flags)); err != nil {
			log.Error("cache model result", "error", err)
		}
		if err := s.Store.SaveModelUsage(ctx, analysisID, res.InputTokens, res.OutputTokens, res.CostUSD); err != nil {
			log.Error("save model usage", "error", err)
		}
		return modelOutput{summary: parsed.Summary, flags: parsed.Flags}, nil
	})
	if err != nil {
		log.Warn("model unavailable", "error", err)
		return "", nil
	}
	if shared {
		log.Info("model call shared with concurrent run")
	}
	out := v.(modelOutput)
	return out.summary, out.flags
}

// archiveRaw ships the analyzer's raw output to object storage. Best
// effort; never fails the run.
func (s *Service) archiveRaw(ctx context.Context, log *slog.Logger, analysisID int64, raw []byte) {
	if s.Artifacts == nil || len(raw) == 0 {
		return
	}
	key := fmt.Sprintf("analyses/%d/semgrep-%s.json", analysisID, uuid.NewString())
	loc, err := s.Artifacts.Upload(ctx, key, raw, "application/json")
	if err != nil {
		log.Warn("archive analyzer output", "error", err)
		return
	}
	log.Info("analyzer output archived", "location", loc)
}

func (s *Service) audit(ctx context.Context, analysisID int64, repo string, pr int, stage, msg string) {
	if s.RunLog == nil {
		return
	}
	e := &runlog.RunError{
		AnalysisID:   analysisID,
		RepoFullName: repo,
		PRNumber:     pr,
		Stage:        stage,
		Message:      msg,
		CreatedAt:    s.Clock.Now(),
	}
	if err := s.RunLog.Save(context.WithoutCancel(ctx), e); err != nil {
		s.Log.Error("save run error", "error", err)
	}
}

func (s *Service) recoverRun(event, repo string, pr int) {
	if r := recover(); r != nil {
		s.Log.Error("run panicked",
			"event", event,
			"repo", repo,
			"pr", pr,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()),
		)
	}
}

func flagsToJSON(flags []domain.BehavioralFlag) string {
	if len(flags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
