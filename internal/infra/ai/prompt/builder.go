package prompt

import (
	"fmt"
	"strings"

	"github.com/codesentry/codesentry/internal/domain/detect"
	domain "github.com/codesentry/codesentry/internal/domain/review"
)

// DefaultTokenBudget is the total size of the prompt, template included.
const DefaultTokenBudget = 4000

// Builder fills the review template with per-file diff blocks until the
// token budget runs out.
type Builder struct {
	counter TokenCounter
	budget  int
}

func NewBuilder(counter TokenCounter, budget int) *Builder {
	if counter == nil {
		counter = ApproxCounter{}
	}
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	return &Builder{counter: counter, budget: budget}
}

// Build assembles the prompt from files that actually add lines, in input
// order. A file block that would overflow the remaining budget is truncated
// line by line and ends the fill; files left out are reported in a trailing
// count. ok is false when no file has additions.
func (b *Builder) Build(files []domain.ChangedFile) (string, bool) {
	if len(files) == 0 {
		return "", false
	}

	type patchEntry struct {
		name  string
		patch string
	}
	var withAdds []patchEntry
	for _, f := range files {
		if f.Patch != "" && detect.CountAddedLines(f.Patch) > 0 {
			name := f.Name
			if name == "" {
				name = "unknown"
			}
			withAdds = append(withAdds, patchEntry{name: name, patch: f.Patch})
		}
	}
	if len(withAdds) == 0 {
		return "", false
	}

	remaining := b.budget - b.counter.Count(strings.Replace(reviewTemplate, diffPlaceholder, "", 1))

	var blocks []string
	included := 0
	for _, entry := range withAdds {
		block := "--- " + entry.name + " ---\n" + entry.patch + "\n"
		blockTokens := b.counter.Count(block)

		if blockTokens <= remaining {
			blocks = append(blocks, block)
			remaining -= blockTokens
			included++
			continue
		}

		var truncated []string
		used := 0
		for _, line := range splitKeepEnds(block) {
			lineTokens := b.counter.Count(line)
			if used+lineTokens > remaining {
				break
			}
			truncated = append(truncated, line)
			used += lineTokens
		}
		if len(truncated) > 0 {
			truncated = append(truncated, "\n... (truncated)\n")
			blocks = append(blocks, strings.Join(truncated, ""))
			included++
		}
		remaining = 0
		break
	}

	if skipped := len(withAdds) - included; skipped > 0 {
		blocks = append(blocks, fmt.Sprintf("(%d more file(s) truncated)\n", skipped))
	}
	if len(blocks) == 0 {
		return "", false
	}

	return strings.Replace(reviewTemplate, diffPlaceholder, strings.Join(blocks, ""), 1), true
}

// splitKeepEnds splits on newlines keeping them attached, so token counts
// per line add up to the count of the whole block.
func splitKeepEnds(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
