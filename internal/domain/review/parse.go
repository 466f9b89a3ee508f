package review

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseOutcome tags how much of the model response survived parsing.
type ParseOutcome int

const (
	// ParsedOK: a JSON object was recovered, summary and flags are trusted.
	ParsedOK ParseOutcome = iota
	// PartialOK: only the summary string was salvaged from truncated JSON.
	PartialOK
	// ParseFailed: nothing parsed; summary is a raw-text excerpt.
	ParseFailed
)

// ParsedResponse is the normalized model output.
type ParsedResponse struct {
	Outcome ParseOutcome
	Summary string
	Flags   []BehavioralFlag
}

const rawExcerptLimit = 500

var (
	fenceOpenRe  = regexp.MustCompile("^```(?:json)?\\s*\\n?")
	fenceCloseRe = regexp.MustCompile("\\n?```\\s*$")
	jsonSpanRe   = regexp.MustCompile(`\{[\s\S]*\}`)
	summaryRe    = regexp.MustCompile(`"summary"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// ParseModelResponse turns a raw model reply into a summary plus normalized
// behavioral flags. Models wrap JSON in markdown fences, prepend prose, or
// get cut off at the token limit, so parsing falls through tiers: direct
// JSON, the first {...} span, a salvaged summary field, and finally a plain
// text excerpt.
func ParseModelResponse(raw string) ParsedResponse {
	cleaned := stripMarkdownFencing(raw)

	obj := tryParseJSON(cleaned)
	if obj == nil {
		if span := jsonSpanRe.FindString(cleaned); span != "" {
			obj = tryParseJSON(span)
		}
	}

	if obj == nil {
		// Output cut off mid-structure still usually carries a complete
		// summary field worth salvaging.
		if m := summaryRe.FindStringSubmatch(cleaned); m != nil {
			return ParsedResponse{Outcome: PartialOK, Summary: m[1]}
		}
		return ParsedResponse{Outcome: ParseFailed, Summary: excerpt(cleaned, rawExcerptLimit)}
	}

	summary, _ := obj["summary"].(string)
	return ParsedResponse{
		Outcome: ParsedOK,
		Summary: summary,
		Flags:   normalizeFlags(obj["behavioral_flags"]),
	}
}

func stripMarkdownFencing(text string) string {
	text = fenceOpenRe.ReplaceAllString(strings.TrimSpace(text), "")
	text = fenceCloseRe.ReplaceAllString(strings.TrimSpace(text), "")
	return strings.TrimSpace(text)
}

func tryParseJSON(text string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil
	}
	return obj
}

// normalizeFlags applies field defaults and skips non-object entries.
// Anything that is not a list counts as no flags.
func normalizeFlags(v any) []BehavioralFlag {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	flags := make([]BehavioralFlag, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fl := BehavioralFlag{Severity: FlagMedium}
		if s, ok := m["flag"].(string); ok {
			fl.Flag = s
		}
		if s, ok := m["severity"].(string); ok {
			fl.Severity = FlagSeverity(s)
		}
		if s, ok := m["location"].(string); ok {
			fl.Location = s
		}
		flags = append(flags, fl)
	}
	return flags
}

func excerpt(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
