package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeRisk(t *testing.T) {
	tests := []struct {
		name     string
		findings []Finding
		flags    []BehavioralFlag
		want     RiskTier
	}{
		{
			name:     "error finding is high regardless of flags",
			findings: []Finding{{Severity: SeverityError}},
			want:     RiskHigh,
		},
		{
			name:     "error outranks warnings",
			findings: []Finding{{Severity: SeverityWarning}, {Severity: SeverityError}},
			flags:    []BehavioralFlag{{Severity: FlagLow}},
			want:     RiskHigh,
		},
		{
			name:     "warnings only is medium",
			findings: []Finding{{Severity: SeverityWarning}},
			want:     RiskMedium,
		},
		{
			name:     "info finding plus high flag is medium",
			findings: []Finding{{Severity: SeverityInfo}},
			flags:    []BehavioralFlag{{Severity: FlagHigh}},
			want:     RiskMedium,
		},
		{
			name:  "high flags alone never raise above low",
			flags: []BehavioralFlag{{Severity: FlagHigh}, {Severity: FlagHigh}},
			want:  RiskLow,
		},
		{
			name:     "info findings with medium flags is low",
			findings: []Finding{{Severity: SeverityInfo}},
			flags:    []BehavioralFlag{{Severity: FlagMedium}},
			want:     RiskLow,
		},
		{
			name: "nothing at all is low",
			want: RiskLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeRisk(tt.findings, tt.flags))
		})
	}
}
