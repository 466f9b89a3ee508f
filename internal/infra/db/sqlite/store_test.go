package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/codesentry/codesentry/internal/domain/review"
	"github.com/codesentry/codesentry/internal/domain/runlog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store
}

func newAnalysis(repo string, pr int, sha string) *domain.Analysis {
	return &domain.Analysis{
		InstallationID: 7,
		RepoFullName:   repo,
		PRNumber:       pr,
		PRHeadSHA:      sha,
		CommentID:      100,
		Status:         domain.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestAnalysisLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateAnalysis(ctx, newAnalysis("octo/repo", 42, "aaa111"))
	require.NoError(t, err)
	require.NotZero(t, id)

	latest, err := store.LatestAnalysisForPR(ctx, "octo/repo", 42)
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, domain.StatusPending, latest.Status)
	assert.Equal(t, int64(100), latest.CommentID)

	require.NoError(t, store.FinishAnalysis(ctx, id, domain.StatusComplete))
	latest, err = store.LatestAnalysisForPR(ctx, "octo/repo", 42)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, latest.Status)

	_, err = store.LatestAnalysisForPR(ctx, "octo/repo", 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	commentID, err := store.CommentIDForPR(ctx, "octo/repo", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(100), commentID)

	commentID, err = store.CommentIDForPR(ctx, "octo/repo", 99)
	require.NoError(t, err)
	assert.Zero(t, commentID)
}

func TestDismissalPersistsAcrossAnalyses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Analysis A carries the finding that gets dismissed.
	idA, err := store.CreateAnalysis(ctx, newAnalysis("octo/repo", 42, "sha-a"))
	require.NoError(t, err)
	require.NoError(t, store.InsertFindings(ctx, idA, []domain.Finding{
		{RuleID: "sql-injection", Category: "security", Severity: domain.SeverityError, FilePath: "a.py", LineStart: 3, Message: "m"},
		{RuleID: "no-eval", Category: "security", Severity: domain.SeverityWarning, FilePath: "a.py", LineStart: 9, Message: "m"},
	}))

	changed, err := store.DismissFindings(ctx, idA, "sql-injection", "test fixture", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	// Dismissing again touches nothing (one-way transition).
	changed, err = store.DismissFindings(ctx, idA, "sql-injection", "again", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	// Analysis B on a new head SHA still sees the PR-scoped dismissal.
	_, err = store.CreateAnalysis(ctx, newAnalysis("octo/repo", 42, "sha-b"))
	require.NoError(t, err)

	rules, err := store.DismissedRules(ctx, "octo/repo", 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"sql-injection"}, rules)

	// A different PR in the same repo is unaffected.
	rules, err = store.DismissedRules(ctx, "octo/repo", 43)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestModelResultCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CachedModelResult(ctx, "nothing")
	assert.ErrorIs(t, err, domain.ErrNoCache)

	idOld, err := store.CreateAnalysis(ctx, newAnalysis("octo/repo", 1, "shared-sha"))
	require.NoError(t, err)
	idNew, err := store.CreateAnalysis(ctx, newAnalysis("octo/other", 2, "shared-sha"))
	require.NoError(t, err)
	require.Greater(t, idNew, idOld)

	// The write lands on the newest analysis row for the SHA.
	require.NoError(t, store.CacheModelResult(ctx, "shared-sha", "does things", `[{"flag":"f","severity":"high","location":""}]`))

	cached, err := store.CachedModelResult(ctx, "shared-sha")
	require.NoError(t, err)
	assert.Equal(t, "does things", cached.Summary)
	require.Len(t, cached.Flags, 1)
	assert.Equal(t, domain.FlagHigh, cached.Flags[0].Severity)

	// An unrelated SHA yields no cache.
	_, err = store.CachedModelResult(ctx, "other-sha")
	assert.ErrorIs(t, err, domain.ErrNoCache)
}

func TestCachedFlagsMalformedDegradesToEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateAnalysis(ctx, newAnalysis("octo/repo", 1, "s1"))
	require.NoError(t, err)
	require.NoError(t, store.CacheModelResult(ctx, "s1", "summary", "{{{not json"))

	cached, err := store.CachedModelResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "summary", cached.Summary)
	assert.Empty(t, cached.Flags)
}

func TestRateSlotFixedWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 20; i++ {
		allowed, err := store.ReserveRateSlot(ctx, 55, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be allowed", i)
	}

	allowed, err := store.ReserveRateSlot(ctx, 55, now.Add(21*time.Second))
	require.NoError(t, err)
	assert.False(t, allowed, "21st call in the window must be denied")

	// A denial does not mutate state: still denied a moment later.
	allowed, err = store.ReserveRateSlot(ctx, 55, now.Add(22*time.Second))
	require.NoError(t, err)
	assert.False(t, allowed)

	// Window expiry resets the count to 1.
	later := now.Add(1*time.Second + rateWindow)
	allowed, err = store.ReserveRateSlot(ctx, 55, later)
	require.NoError(t, err)
	assert.True(t, allowed)

	var count int
	require.NoError(t, store.db.QueryRow(
		`SELECT count FROM rate_limits WHERE installation_id=55`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRateSlotConcurrentFirstReservations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Concurrent first calls for a fresh installation must each take a slot
	// instead of colliding on the row creation.
	const callers = 8
	results := make(chan bool, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := store.ReserveRateSlot(ctx, 99, now)
			results <- allowed
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for allowed := range results {
		assert.True(t, allowed)
	}

	// All reservations were counted against the same window.
	for i := callers; i < 20; i++ {
		allowed, err := store.ReserveRateSlot(ctx, 99, now)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, err := store.ReserveRateSlot(ctx, 99, now)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateSlotPerInstallation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 20; i++ {
		allowed, err := store.ReserveRateSlot(ctx, 1, now)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, err := store.ReserveRateSlot(ctx, 1, now)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Another installation has its own window.
	allowed, err = store.ReserveRateSlot(ctx, 2, now)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCostStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stats, err := store.CostStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalAnalyses)
	assert.Zero(t, stats.TotalCostUSD)

	id1, err := store.CreateAnalysis(ctx, newAnalysis("octo/repo", 1, "s1"))
	require.NoError(t, err)
	require.NoError(t, store.SaveModelUsage(ctx, id1, 100, 50, 0.0025))
	require.NoError(t, store.FinishAnalysis(ctx, id1, domain.StatusComplete))

	id2, err := store.CreateAnalysis(ctx, newAnalysis("octo/repo", 2, "s2"))
	require.NoError(t, err)
	require.NoError(t, store.SaveModelUsage(ctx, id2, 100, 50, 0.0035))
	require.NoError(t, store.FinishAnalysis(ctx, id2, domain.StatusComplete))

	// Errored runs are excluded from the spend stats.
	id3, err := store.CreateAnalysis(ctx, newAnalysis("octo/repo", 3, "s3"))
	require.NoError(t, err)
	require.NoError(t, store.FinishAnalysis(ctx, id3, domain.StatusError))

	stats, err = store.CostStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAnalyses)
	assert.InDelta(t, 0.006, stats.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.003, stats.AverageCostUSD, 1e-9)
}

func TestRunLogRepo(t *testing.T) {
	store := newTestStore(t)
	repo := NewRunLogRepo(store)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &runlog.RunError{
		RepoFullName: "octo/repo",
		PRNumber:     42,
		Stage:        "analyze",
		Message:      "semgrep timed out after 120s",
		CreatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, repo.Save(ctx, &runlog.RunError{
		AnalysisID:   3,
		RepoFullName: "octo/repo",
		PRNumber:     43,
		Stage:        "model",
		Message:      "model unavailable",
		CreatedAt:    time.Now().UTC(),
	}))

	entries, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "model", entries[0].Stage)
	assert.Equal(t, int64(3), entries[0].AnalysisID)
	assert.Equal(t, "analyze", entries[1].Stage)

	entries, err = repo.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
