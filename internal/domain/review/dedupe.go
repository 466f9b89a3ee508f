package review

import (
	"strconv"
	"strings"
)

// dedupeWindow is the line distance within which a flag and a finding on
// the same file are treated as the same issue.
const dedupeWindow = 3

// DeduplicateFlags drops behavioral flags that overlap an analyzer finding
// at the same file within ±3 lines. Flags without a parsable "file:line"
// location are always kept. Order is preserved.
func DeduplicateFlags(flags []BehavioralFlag, findings []Finding) []BehavioralFlag {
	if len(flags) == 0 || len(findings) == 0 {
		return append([]BehavioralFlag(nil), flags...)
	}

	out := make([]BehavioralFlag, 0, len(flags))
	for _, fl := range flags {
		file, line, ok := splitLocation(fl.Location)
		if !ok {
			out = append(out, fl)
			continue
		}
		if !overlapsFinding(findings, file, line) {
			out = append(out, fl)
		}
	}
	return out
}

func overlapsFinding(findings []Finding, file string, line int) bool {
	for _, f := range findings {
		if f.FilePath != file {
			continue
		}
		d := f.LineStart - line
		if d < 0 {
			d = -d
		}
		if d <= dedupeWindow {
			return true
		}
	}
	return false
}

// splitLocation parses "path/to/file.py:42" on the last colon.
func splitLocation(loc string) (file string, line int, ok bool) {
	i := strings.LastIndex(loc, ":")
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(loc[i+1:]))
	if err != nil {
		return "", 0, false
	}
	return loc[:i], n, true
}
