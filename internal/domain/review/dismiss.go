package review

import (
	"regexp"
	"strings"
)

// Reply grammar: "codesentry ignore <rule-id>: <reason>". The rule id takes
// no whitespace or colons; the reason is the rest of the line.
var dismissRe = regexp.MustCompile(`(?i)codesentry[:\s]+ignore\s+([^\s:]+)[:\s]+(.+)`)

// DismissCommand is a parsed human override.
type DismissCommand struct {
	RuleID string
	Reason string
}

// ParseDismissCommand scans a comment body for a dismiss command.
func ParseDismissCommand(body string) (DismissCommand, bool) {
	m := dismissRe.FindStringSubmatch(body)
	if m == nil {
		return DismissCommand{}, false
	}
	return DismissCommand{RuleID: m[1], Reason: strings.TrimSpace(m[2])}, true
}

// ExcludeRules drops findings whose rule id was dismissed for the PR.
func ExcludeRules(findings []Finding, rules []string) []Finding {
	if len(findings) == 0 || len(rules) == 0 {
		return findings
	}
	drop := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		drop[r] = struct{}{}
	}
	kept := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if _, hit := drop[f.RuleID]; !hit {
			kept = append(kept, f)
		}
	}
	return kept
}
