// Package render builds the Markdown bodies posted to the PR conversation.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codesentry/codesentry/internal/domain/review"
)

// Fixed bodies for the short-lived comment states.
const (
	AnalyzingBody   = "🔍 CodeSentry is analyzing this PR..."
	RateLimitedBody = "⏸️ Rate limit reached (20 analyses/hour). Analysis will resume shortly."
	ErrorBody       = "⚠️ CodeSentry encountered an error analyzing this PR. The team has been notified."
)

// ProgressBody reports the detection stage while static analysis runs.
func ProgressBody(signals []review.FileSignal) string {
	if len(signals) == 0 {
		return "🔍 No AI-authored files detected. Running static analysis on all files..."
	}
	return fmt.Sprintf(
		"🔍 Detected %d likely AI-authored file(s): %s. Static analysis running...",
		len(signals), strings.Join(signalNames(signals), ", "),
	)
}

// DismissedBody confirms a dismiss command took effect.
func DismissedBody(ruleID string) string {
	return fmt.Sprintf("✅ Dismissed `%s`. It will be suppressed in future analyses of this PR.", ruleID)
}

// NoActiveFindingBody answers a dismiss command that matched nothing.
func NoActiveFindingBody(ruleID string) string {
	return fmt.Sprintf("⚠️ No active finding for rule `%s` on this PR.", ruleID)
}

// Input carries everything the report body shows.
type Input struct {
	Signals       []review.FileSignal
	Findings      []review.Finding
	Flags         []review.BehavioralFlag
	Summary       string
	HeadSHA       string
	AnalyzerError string
	Interim       bool // behavioral stage still running
}

var riskEmoji = map[review.RiskTier]string{
	review.RiskHigh:   "🔴",
	review.RiskMedium: "🟡",
	review.RiskLow:    "🟢",
}

var severityIcon = map[review.Severity]string{
	review.SeverityError:   "🔴",
	review.SeverityWarning: "🟡",
	review.SeverityInfo:    "ℹ️",
}

var flagIcon = map[review.FlagSeverity]string{
	review.FlagHigh:   "🔴",
	review.FlagMedium: "🟡",
	review.FlagLow:    "ℹ️",
}

// Comment renders the full report body.
func Comment(in Input) string {
	names := signalNames(in.Signals)
	risk := review.ComputeRisk(in.Findings, in.Flags)

	var lines []string
	lines = append(lines, "## 🔍 CodeSentry Analysis", "")
	lines = append(lines, fmt.Sprintf(
		"**Risk:** %s %s | **AI-authored files:** %d | **Issues:** %d",
		riskEmoji[risk], risk, len(names), len(in.Findings)+len(in.Flags),
	))
	if len(names) > 0 {
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = "`" + n + "`"
		}
		lines = append(lines, "", "**Files:** "+strings.Join(quoted, ", "))
	}

	lines = append(lines, "")
	switch {
	case in.Summary != "":
		lines = append(lines, "### What this code does", in.Summary)
	case in.Interim:
		lines = append(lines, "⏳ Behavioral analysis running...")
	default:
		lines = append(lines, "⚠️ Behavioral summary unavailable.")
	}

	if in.AnalyzerError != "" {
		lines = append(lines, "", "⚠️ Static analysis error: "+in.AnalyzerError)
	}

	if len(in.Findings) > 0 {
		lines = append(lines, renderFindings(in.Findings)...)
	} else if in.AnalyzerError == "" {
		if len(in.Flags) > 0 {
			lines = append(lines, "", "✅ No static analysis issues found.")
		} else {
			lines = append(lines, "", "✅ No issues found.")
		}
	}

	if len(in.Flags) > 0 {
		lines = append(lines, renderFlags(in.Flags)...)
	}

	sha := in.HeadSHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	if sha == "" {
		sha = "unknown"
	}
	lines = append(lines, "", "---",
		fmt.Sprintf("_Analyzed commit `%s`_", sha),
		"",
		"_To dismiss a finding, reply_ `codesentry ignore rule-id: reason`",
	)

	return strings.Join(lines, "\n")
}

func renderFindings(findings []review.Finding) []string {
	var lines []string
	lines = append(lines, "", fmt.Sprintf("### Static Analysis (%d finding%s)", len(findings), plural(len(findings))))

	var errs, warns, infos int
	for _, f := range findings {
		switch f.Severity {
		case review.SeverityError:
			errs++
		case review.SeverityWarning:
			warns++
		case review.SeverityInfo:
			infos++
		}
	}
	var tally []string
	if errs > 0 {
		tally = append(tally, fmt.Sprintf("🔴 %d error%s", errs, plural(errs)))
	}
	if warns > 0 {
		tally = append(tally, fmt.Sprintf("🟡 %d warning%s", warns, plural(warns)))
	}
	if infos > 0 {
		tally = append(tally, fmt.Sprintf("ℹ️ %d info", infos))
	}
	if len(tally) > 0 {
		lines = append(lines, strings.Join(tally, " · "))
	}

	byFile := map[string][]review.Finding{}
	for _, f := range findings {
		byFile[f.FilePath] = append(byFile[f.FilePath], f)
	}

	for _, path := range sortedKeys(byFile) {
		group := byFile[path]
		var fe, fw, fi int
		for _, f := range group {
			switch f.Severity {
			case review.SeverityError:
				fe++
			case review.SeverityWarning:
				fw++
			case review.SeverityInfo:
				fi++
			}
		}
		var badge []string
		if fe > 0 {
			badge = append(badge, fmt.Sprintf("%dE", fe))
		}
		if fw > 0 {
			badge = append(badge, fmt.Sprintf("%dW", fw))
		}
		if fi > 0 {
			badge = append(badge, fmt.Sprintf("%dI", fi))
		}

		lines = append(lines, "", "<details>", fmt.Sprintf(
			"<summary><strong>%s</strong> — %d issue%s (%s)</summary>",
			path, len(group), plural(len(group)), strings.Join(badge, ", "),
		), "")

		sort.SliceStable(group, func(i, j int) bool { return group[i].LineStart < group[j].LineStart })
		for _, f := range group {
			icon, ok := severityIcon[f.Severity]
			if !ok {
				icon = "·"
			}
			lines = append(lines, fmt.Sprintf("- %s **L%d** `%s` — %s", icon, f.LineStart, f.RuleID, f.Message))
		}
		lines = append(lines, "", "</details>")
	}
	return lines
}

func renderFlags(flags []review.BehavioralFlag) []string {
	var lines []string
	lines = append(lines, "", fmt.Sprintf("### Behavioral Analysis (%d flag%s)", len(flags), plural(len(flags))))

	var high, med, low int
	for _, fl := range flags {
		switch fl.Severity {
		case review.FlagHigh:
			high++
		case review.FlagMedium:
			med++
		case review.FlagLow:
			low++
		}
	}
	var tally []string
	if high > 0 {
		tally = append(tally, fmt.Sprintf("🔴 %d high", high))
	}
	if med > 0 {
		tally = append(tally, fmt.Sprintf("🟡 %d medium", med))
	}
	if low > 0 {
		tally = append(tally, fmt.Sprintf("ℹ️ %d low", low))
	}
	if len(tally) > 0 {
		lines = append(lines, strings.Join(tally, " · "))
	}

	// Group on the file part before the first colon; unlocated flags land
	// in a trailing General bucket.
	byFile := map[string][]review.BehavioralFlag{}
	var general []review.BehavioralFlag
	for _, fl := range flags {
		file, _, ok := strings.Cut(fl.Location, ":")
		if fl.Location == "" || (!ok && file == "") || file == "" {
			general = append(general, fl)
			continue
		}
		byFile[file] = append(byFile[file], fl)
	}

	for _, path := range sortedKeys(byFile) {
		group := byFile[path]
		var fh, fm, fl int
		for _, f := range group {
			switch f.Severity {
			case review.FlagHigh:
				fh++
			case review.FlagMedium:
				fm++
			case review.FlagLow:
				fl++
			}
		}
		var badge []string
		if fh > 0 {
			badge = append(badge, fmt.Sprintf("%dH", fh))
		}
		if fm > 0 {
			badge = append(badge, fmt.Sprintf("%dM", fm))
		}
		if fl > 0 {
			badge = append(badge, fmt.Sprintf("%dL", fl))
		}

		lines = append(lines, "", "<details>", fmt.Sprintf(
			"<summary><strong>%s</strong> — %d flag%s (%s)</summary>",
			path, len(group), plural(len(group)), strings.Join(badge, ", "),
		), "")

		for _, f := range group {
			icon, ok := flagIcon[f.Severity]
			if !ok {
				icon = "🟡"
			}
			_, linePart, hasLine := strings.Cut(f.Location, ":")
			if hasLine && linePart != "" {
				lines = append(lines, fmt.Sprintf("- %s **L%s** — %s", icon, linePart, f.Flag))
			} else {
				lines = append(lines, fmt.Sprintf("- %s — %s", icon, f.Flag))
			}
		}
		lines = append(lines, "", "</details>")
	}

	if len(general) > 0 {
		lines = append(lines, "", "<details>", fmt.Sprintf(
			"<summary><strong>General</strong> — %d flag%s</summary>",
			len(general), plural(len(general)),
		), "")
		for _, f := range general {
			icon, ok := flagIcon[f.Severity]
			if !ok {
				icon = "🟡"
			}
			lines = append(lines, fmt.Sprintf("- %s — %s", icon, f.Flag))
		}
		lines = append(lines, "", "</details>")
	}
	return lines
}

func signalNames(signals []review.FileSignal) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, s := range signals {
		if _, dup := seen[s.Name]; dup {
			continue
		}
		seen[s.Name] = struct{}{}
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
