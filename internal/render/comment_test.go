package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codesentry/codesentry/internal/domain/review"
)

func TestCommentFinalLayout(t *testing.T) {
	body := Comment(Input{
		Signals: []review.FileSignal{
			{Name: "b.py", Confidence: 0.45},
			{Name: "a.py", Confidence: 0.9},
			{Name: "a.py", Confidence: 0.9},
		},
		Findings: []review.Finding{
			{RuleID: "sql-injection", Severity: review.SeverityError, FilePath: "a.py", LineStart: 12, Message: "tainted query"},
			{RuleID: "no-eval", Severity: review.SeverityWarning, FilePath: "a.py", LineStart: 3, Message: "eval use"},
		},
		Flags: []review.BehavioralFlag{
			{Flag: "retry loop never ends", Severity: review.FlagHigh, Location: "a.py:30"},
			{Flag: "silent catch", Severity: review.FlagMedium},
		},
		Summary: "Adds a login endpoint.",
		HeadSHA: "0123456789abcdef",
	})

	assert.Contains(t, body, "## 🔍 CodeSentry Analysis")
	assert.Contains(t, body, "**Risk:** 🔴 High | **AI-authored files:** 2 | **Issues:** 4")
	assert.Contains(t, body, "**Files:** `a.py`, `b.py`")
	assert.Contains(t, body, "### What this code does\nAdds a login endpoint.")
	assert.Contains(t, body, "### Static Analysis (2 findings)")
	assert.Contains(t, body, "🔴 1 error · 🟡 1 warning")
	assert.Contains(t, body, "### Behavioral Analysis (2 flags)")
	assert.Contains(t, body, "_Analyzed commit `0123456`_")
	assert.Contains(t, body, "`codesentry ignore rule-id: reason`")

	// Findings are sorted by line inside the file group.
	warnAt := strings.Index(body, "**L3** `no-eval`")
	errAt := strings.Index(body, "**L12** `sql-injection`")
	assert.Greater(t, errAt, warnAt)

	// Unlocated flags land in the General bucket.
	assert.Contains(t, body, "<summary><strong>General</strong> — 1 flag</summary>")
}

func TestCommentInterimAndEmptyStates(t *testing.T) {
	interim := Comment(Input{Interim: true, HeadSHA: "abc"})
	assert.Contains(t, interim, "⏳ Behavioral analysis running...")
	assert.Contains(t, interim, "✅ No issues found.")
	assert.Contains(t, interim, "_Analyzed commit `abc`_")

	final := Comment(Input{})
	assert.Contains(t, final, "⚠️ Behavioral summary unavailable.")
	assert.Contains(t, final, "**Risk:** 🟢 Low")
	assert.Contains(t, final, "_Analyzed commit `unknown`_")
}

func TestCommentAnalyzerError(t *testing.T) {
	body := Comment(Input{AnalyzerError: "semgrep timed out after 120s"})
	assert.Contains(t, body, "⚠️ Static analysis error: semgrep timed out after 120s")
	assert.NotContains(t, body, "✅ No issues found.")
}

func TestCommentFlagsOnlyShowCleanAnalyzer(t *testing.T) {
	body := Comment(Input{
		Flags: []review.BehavioralFlag{
			{Flag: "a", Severity: review.FlagHigh},
			{Flag: "b", Severity: review.FlagHigh},
		},
	})
	assert.Contains(t, body, "✅ No static analysis issues found.")
	assert.Contains(t, body, "### Behavioral Analysis (2 flags)")
	// Flags alone never raise risk above Low.
	assert.Contains(t, body, "**Risk:** 🟢 Low")
}

func TestFixedBodies(t *testing.T) {
	assert.Contains(t, ProgressBody(nil), "No AI-authored files detected")
	assert.Contains(t, ProgressBody([]review.FileSignal{{Name: "a.py"}}), "1 likely AI-authored file(s): a.py")
	assert.Contains(t, DismissedBody("sql-injection"), "✅ Dismissed `sql-injection`")
	assert.Contains(t, NoActiveFindingBody("x"), "⚠️ No active finding for rule `x`")
}
