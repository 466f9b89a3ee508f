package review

// minGatedFlags is the smallest number of corroborated flags worth
// surfacing; a single flag is judged too noisy.
const minGatedFlags = 2

// GateByEvidence filters behavioral flags by the strength of corroborating
// analyzer findings. With an error finding present the model's output is
// trusted wholesale; with only lesser findings the low-severity speculation
// is cut; with no findings at all only high-severity flags survive. Fewer
// than two survivors suppresses the whole section.
func GateByEvidence(flags []BehavioralFlag, findings []Finding) []BehavioralFlag {
	if len(flags) == 0 {
		return nil
	}

	hasErrors := false
	for _, f := range findings {
		if f.Severity == SeverityError {
			hasErrors = true
			break
		}
	}

	var kept []BehavioralFlag
	switch {
	case hasErrors:
		kept = append([]BehavioralFlag(nil), flags...)
	case len(findings) > 0:
		for _, fl := range flags {
			if fl.Severity == FlagHigh || fl.Severity == FlagMedium {
				kept = append(kept, fl)
			}
		}
	default:
		for _, fl := range flags {
			if fl.Severity == FlagHigh {
				kept = append(kept, fl)
			}
		}
	}

	if len(kept) < minGatedFlags {
		return nil
	}
	return kept
}
