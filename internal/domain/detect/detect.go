package detect

import (
	"math"
	"regexp"
	"strings"

	"github.com/codesentry/codesentry/internal/domain/review"
)

// Heuristic weights. The commit-message signal overrides everything; style
// signals stack up to styleCap; size signals stack on top, capped at 1.0.
const (
	commitConfidence = 0.9
	styleSignal      = 0.15
	narrationSignal  = 0.3
	styleCap         = 0.6
	newFileSignal    = 0.4
	bigEditSignal    = 0.3
	reportThreshold  = 0.3

	newFileMinAdded = 100
	bigEditMinAdded = 200
)

// Signal tags carried on reported files.
const (
	TagCommitMessage = "commit-message"
	TagCodeStyle     = "code-style"
	TagLargeAddition = "large-addition"
)

var commitPatterns = []string{
	`co-authored-by\s*:?\s*.*(?:copilot|cody|devin)`,
	`generated\s+(?:with|by|using)\s+(?:cursor|copilot|claude|chatgpt|gpt|aider|codeium|tabnine|windsurf|devin)`,
	`ai[.\s-]?generated`,
	`vibe[.\s-]?cod`,
}

// Config holds the compiled pattern set. Built once at startup and shared
// by reference; never mutated afterwards.
type Config struct {
	commitRe      *regexp.Regexp
	stepRe        *regexp.Regexp
	todoRe        *regexp.Regexp
	pyTypeParamRe *regexp.Regexp
	pyTypeRe      *regexp.Regexp
	tsTypeRe      *regexp.Regexp
	narrationRe   *regexp.Regexp
}

// DefaultConfig compiles the canonical pattern set.
func DefaultConfig() *Config {
	return &Config{
		commitRe:      regexp.MustCompile(`(?i)` + strings.Join(commitPatterns, `|`)),
		stepRe:        regexp.MustCompile(`(?i)#\s*Step\s+\d+\s*:`),
		todoRe:        regexp.MustCompile(`(?i)TODO\s*:\s*Add\s+error\s+handling`),
		pyTypeParamRe: regexp.MustCompile(`:\s*(?:int|str|bool|float|list|dict|Optional)\s*[,\)]`),
		pyTypeRe:      regexp.MustCompile(`\w+\s*:\s*(?:int|str|bool|float|list|dict|Optional)\b`),
		tsTypeRe:      regexp.MustCompile(`\w+\s*:\s*(?:number|string|boolean|Array|object)\b`),
		narrationRe:   regexp.MustCompile(`(?i)#\s*(?:import|define|set|create|initialize|return|get|check|handle)\s`),
	}
}

// Detector scores changed files for likely AI authorship.
type Detector struct {
	cfg *Config
}

func New(cfg *Config) *Detector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Detector{cfg: cfg}
}

// DetectAIFiles applies the three heuristics. A commit message matching the
// tool/attribution patterns flags every file at 0.9 and short-circuits the
// per-file heuristics. Otherwise files score style + size signals and are
// reported at confidence >= 0.3, rounded to two decimals.
func (d *Detector) DetectAIFiles(files []review.ChangedFile, commits []review.Commit) []review.FileSignal {
	if d.commitsMention(commits) {
		signals := make([]review.FileSignal, 0, len(files))
		for _, f := range files {
			signals = append(signals, review.FileSignal{
				Name:       f.Name,
				Confidence: commitConfidence,
				Tags:       []string{TagCommitMessage},
			})
		}
		return signals
	}

	var signals []review.FileSignal
	for _, f := range files {
		h2 := d.styleScore(f.Patch, f.Name)
		h3 := sizeScore(f)
		combined := h2 + h3
		if combined < reportThreshold {
			continue
		}
		var tags []string
		if h2 > 0 {
			tags = append(tags, TagCodeStyle)
		}
		if h3 > 0 {
			tags = append(tags, TagLargeAddition)
		}
		signals = append(signals, review.FileSignal{
			Name:       f.Name,
			Confidence: round2(math.Min(combined, 1.0)),
			Tags:       tags,
		})
	}
	return signals
}

func (d *Detector) commitsMention(commits []review.Commit) bool {
	for _, c := range commits {
		if c.Message != "" && d.cfg.commitRe.MatchString(c.Message) {
			return true
		}
	}
	return false
}

// styleScore stacks the five style signals, capped at 0.6.
func (d *Detector) styleScore(patch, filename string) float64 {
	if patch == "" {
		return 0
	}

	score := 0.0

	if d.cfg.stepRe.MatchString(patch) {
		score += styleSignal
	}
	if d.cfg.todoRe.MatchString(patch) {
		score += styleSignal
	}

	// Doc comment co-occurring with a definition.
	switch {
	case strings.HasSuffix(filename, ".py"):
		if strings.Contains(patch, `"""`) && strings.Contains(patch, "def ") {
			score += styleSignal
		}
	case isScriptFile(filename):
		if strings.Contains(patch, "/**") && strings.Contains(patch, "*/") {
			score += styleSignal
		}
	}

	// Uniform primitive type annotations.
	if strings.HasSuffix(filename, ".py") {
		if d.cfg.pyTypeParamRe.MatchString(patch) &&
			len(d.cfg.pyTypeRe.FindAllString(patch, -1)) >= 2 {
			score += styleSignal
		}
	} else if strings.HasSuffix(filename, ".ts") || strings.HasSuffix(filename, ".tsx") {
		if len(d.cfg.tsTypeRe.FindAllString(patch, -1)) >= 2 {
			score += styleSignal
		}
	}

	// Comments narrating trivial operations.
	if len(d.cfg.narrationRe.FindAllString(patch, -1)) >= 3 {
		score += narrationSignal
	}

	return math.Min(score, styleCap)
}

// sizeScore flags large additions: brand-new big files more strongly than
// big edits to existing ones.
func sizeScore(f review.ChangedFile) float64 {
	added := CountAddedLines(f.Patch)
	switch {
	case f.Status == review.FileAdded && added >= newFileMinAdded:
		return newFileSignal
	case f.Status == review.FileModified && added >= bigEditMinAdded:
		return bigEditSignal
	}
	return 0
}

// CountAddedLines counts diff lines starting with "+", excluding the "+++"
// file header pseudo-addition.
func CountAddedLines(patch string) int {
	if patch == "" {
		return 0
	}
	count := 0
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			count++
		}
	}
	return count
}

func isScriptFile(name string) bool {
	for _, ext := range []string{".ts", ".tsx", ".js", ".jsx"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
