package review

// ComputeRisk maps findings plus gated behavioral flags to a risk tier.
// First match wins. High requires a confirmed analyzer error finding;
// behavioral flags alone never raise risk above Low.
func ComputeRisk(findings []Finding, flags []BehavioralFlag) RiskTier {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return RiskHigh
		}
	}
	for _, f := range findings {
		if f.Severity == SeverityWarning {
			return RiskMedium
		}
	}
	if len(findings) > 0 {
		for _, fl := range flags {
			if fl.Severity == FlagHigh {
				return RiskMedium
			}
		}
	}
	return RiskLow
}
