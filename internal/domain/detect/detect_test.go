package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesentry/codesentry/internal/domain/review"
)

func patchWithAdditions(n int) string {
	var b strings.Builder
	b.WriteString("+++ b/file.py\n@@ -0,0 +1," + "1 @@\n")
	for i := 0; i < n; i++ {
		b.WriteString("+x = 1\n")
	}
	return b.String()
}

func TestCommitMessageShortCircuit(t *testing.T) {
	d := New(DefaultConfig())

	files := []review.ChangedFile{
		{Name: "a.py", Status: review.FileAdded, Patch: patchWithAdditions(500)},
		{Name: "b.ts", Status: review.FileModified, Patch: "+// tiny\n"},
	}
	commits := []review.Commit{
		{SHA: "abc", Message: "chore: tidy up"},
		{SHA: "def", Message: "Generated with Copilot assistance"},
	}

	signals := d.DetectAIFiles(files, commits)
	require.Len(t, signals, 2)
	for _, s := range signals {
		assert.Equal(t, 0.9, s.Confidence)
		assert.Equal(t, []string{TagCommitMessage}, s.Tags)
	}
}

func TestCommitPatternVariants(t *testing.T) {
	d := New(DefaultConfig())
	files := []review.ChangedFile{{Name: "a.py"}}

	for _, msg := range []string{
		"Co-Authored-By: GitHub Copilot <copilot@github.com>",
		"generated by claude",
		"this commit is AI-generated",
		"late night vibe coding session",
	} {
		signals := d.DetectAIFiles(files, []review.Commit{{Message: msg}})
		assert.Len(t, signals, 1, "message %q should flag", msg)
	}

	signals := d.DetectAIFiles(files, []review.Commit{{Message: "fix flaky test"}})
	assert.Empty(t, signals)
}

func TestStyleSignals(t *testing.T) {
	d := New(DefaultConfig())

	tests := []struct {
		name  string
		file  review.ChangedFile
		want  float64
		found bool
	}{
		{
			name: "step plus todo hits threshold",
			file: review.ChangedFile{Name: "a.py", Status: review.FileModified, Patch: strings.Join([]string{
				"+# Step 1: load the data",
				"+# TODO: Add error handling",
				"+x = 1",
			}, "\n")},
			want:  0.30,
			found: true,
		},
		{
			name: "adding docstring with def raises score",
			file: review.ChangedFile{Name: "a.py", Status: review.FileModified, Patch: strings.Join([]string{
				"+# Step 1: load the data",
				"+# TODO: Add error handling",
				`+def load(path):`,
				`+    """Load the data from path."""`,
			}, "\n")},
			want:  0.45,
			found: true,
		},
		{
			name: "single signal stays below threshold",
			file: review.ChangedFile{Name: "a.py", Status: review.FileModified, Patch: "+# Step 1: parse\n"},
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := d.DetectAIFiles([]review.ChangedFile{tt.file}, nil)
			if !tt.found {
				assert.Empty(t, signals)
				return
			}
			require.Len(t, signals, 1)
			assert.InDelta(t, tt.want, signals[0].Confidence, 1e-9)
			assert.Contains(t, signals[0].Tags, TagCodeStyle)
		})
	}
}

func TestStyleScoreCap(t *testing.T) {
	d := New(DefaultConfig())
	patch := strings.Join([]string{
		"+# Step 1: set up",
		"+# TODO: Add error handling",
		`+def f(count: int, name: str) -> None:`,
		`+    """Process the data."""`,
		"+# import the modules",
		"+# set the defaults",
		"+# return the result",
	}, "\n")

	signals := d.DetectAIFiles([]review.ChangedFile{{Name: "a.py", Status: review.FileModified, Patch: patch}}, nil)
	require.Len(t, signals, 1)
	assert.Equal(t, 0.6, signals[0].Confidence)
}

func TestSizeSignals(t *testing.T) {
	d := New(DefaultConfig())

	tests := []struct {
		name   string
		status string
		lines  int
		want   float64
		found  bool
	}{
		{"new file 120 lines", review.FileAdded, 120, 0.4, true},
		{"new file 20 lines", review.FileAdded, 20, 0, false},
		{"modified 210 lines", review.FileModified, 210, 0.3, true},
		{"modified 50 lines", review.FileModified, 50, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := review.ChangedFile{Name: "big.py", Status: tt.status, Patch: patchWithAdditions(tt.lines)}
			signals := d.DetectAIFiles([]review.ChangedFile{f}, nil)
			if !tt.found {
				assert.Empty(t, signals)
				return
			}
			require.Len(t, signals, 1)
			assert.Equal(t, tt.want, signals[0].Confidence)
			assert.Equal(t, []string{TagLargeAddition}, signals[0].Tags)
		})
	}
}

func TestCombinedConfidenceCapped(t *testing.T) {
	d := New(DefaultConfig())
	var b strings.Builder
	b.WriteString("+# Step 1: set up\n")
	b.WriteString("+# TODO: Add error handling\n")
	b.WriteString(`+def f(count: int, name: str):` + "\n")
	b.WriteString(`+    """Docstring."""` + "\n")
	b.WriteString("+# import os\n+# set config\n+# return value\n")
	for i := 0; i < 150; i++ {
		b.WriteString("+x = 1\n")
	}

	signals := d.DetectAIFiles([]review.ChangedFile{{Name: "gen.py", Status: review.FileAdded, Patch: b.String()}}, nil)
	require.Len(t, signals, 1)
	// 0.6 style cap + 0.4 new-file signal
	assert.Equal(t, 1.0, signals[0].Confidence)
}

func TestCountAddedLinesExcludesHeader(t *testing.T) {
	patch := "+++ b/a.py\n+one\n+two\n-removed\n context\n"
	assert.Equal(t, 2, CountAddedLines(patch))
	assert.Equal(t, 0, CountAddedLines(""))
}

func TestTypeScriptSignals(t *testing.T) {
	d := New(DefaultConfig())
	patch := strings.Join([]string{
		"+/**",
		"+ * Fetches the user.",
		"+ */",
		"+function getUser(id: number, name: string) {",
		"+}",
		"+// TODO: Add error handling",
	}, "\n")

	signals := d.DetectAIFiles([]review.ChangedFile{{Name: "user.ts", Status: review.FileModified, Patch: patch}}, nil)
	require.Len(t, signals, 1)
	// doc comment + typed params + todo
	assert.InDelta(t, 0.45, signals[0].Confidence, 1e-9)
}
