package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/codesentry/codesentry/internal/domain/review"
)

// byteCounter makes token math exact in tests: one byte, one token.
type byteCounter struct{}

func (byteCounter) Count(text string) int { return len(text) }

func templateTokens() int {
	return byteCounter{}.Count(strings.Replace(reviewTemplate, diffPlaceholder, "", 1))
}

func TestBuildIncludesOnlyFilesWithAdditions(t *testing.T) {
	b := NewBuilder(byteCounter{}, templateTokens()+4096)

	files := []domain.ChangedFile{
		{Name: "added.py", Patch: "+new line\n"},
		{Name: "removed.py", Patch: "-old line\n"},
		{Name: "nopatch.bin"},
	}

	prompt, ok := b.Build(files)
	require.True(t, ok)
	assert.Contains(t, prompt, "--- added.py ---")
	assert.NotContains(t, prompt, "removed.py")
	assert.NotContains(t, prompt, "nopatch.bin")
}

func TestBuildNothingToSummarize(t *testing.T) {
	b := NewBuilder(byteCounter{}, templateTokens()+4096)

	_, ok := b.Build(nil)
	assert.False(t, ok)

	_, ok = b.Build([]domain.ChangedFile{{Name: "a.py", Patch: "-gone\n"}})
	assert.False(t, ok)
}

func TestBuildTruncatesOverBudgetFile(t *testing.T) {
	var big strings.Builder
	for i := 0; i < 200; i++ {
		big.WriteString("+this added line is reasonably long for the test\n")
	}

	// Room for the small file plus a slice of the big one.
	budget := templateTokens() + 300
	b := NewBuilder(byteCounter{}, budget)

	prompt, ok := b.Build([]domain.ChangedFile{
		{Name: "small.py", Patch: "+tiny\n"},
		{Name: "big.py", Patch: big.String()},
		{Name: "after.py", Patch: "+also added\n"},
	})
	require.True(t, ok)

	assert.Contains(t, prompt, "--- small.py ---")
	assert.Contains(t, prompt, "--- big.py ---")
	assert.Contains(t, prompt, "... (truncated)")
	// The fill stops at the truncated file; the one after is only counted.
	assert.NotContains(t, prompt, "after.py")
	assert.Contains(t, prompt, "(1 more file(s) truncated)")
	assert.NotContains(t, prompt, diffPlaceholder)
}

func TestBuildSkippedCountWhenNothingFits(t *testing.T) {
	var big strings.Builder
	for i := 0; i < 200; i++ {
		big.WriteString("+filler line\n")
	}

	// Budget leaves no room for even one line of the first file.
	b := NewBuilder(byteCounter{}, templateTokens()+4)

	prompt, ok := b.Build([]domain.ChangedFile{
		{Name: "big.py", Patch: big.String()},
		{Name: "other.py", Patch: "+x\n"},
	})
	require.True(t, ok)
	assert.Contains(t, prompt, "(2 more file(s) truncated)")
	assert.NotContains(t, prompt, "--- big.py ---")
}

func TestBuildDefaults(t *testing.T) {
	b := NewBuilder(nil, 0)
	assert.Equal(t, DefaultTokenBudget, b.budget)
	_, isApprox := b.counter.(ApproxCounter)
	assert.True(t, isApprox)
}

func TestApproxCounter(t *testing.T) {
	c := ApproxCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("ab"))
	assert.Equal(t, 2, c.Count("abcdefg"))
}
