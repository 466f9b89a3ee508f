package review

import (
	"time"
)

// Severity of a static-analyzer finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// FlagSeverity of a model-asserted behavioral flag.
type FlagSeverity string

const (
	FlagHigh   FlagSeverity = "high"
	FlagMedium FlagSeverity = "medium"
	FlagLow    FlagSeverity = "low"
)

// RiskTier is the single summary judgment for a PR.
type RiskTier string

const (
	RiskHigh   RiskTier = "High"
	RiskMedium RiskTier = "Medium"
	RiskLow    RiskTier = "Low"
)

// AnalysisStatus enum. pending -> complete | error, terminal.
type AnalysisStatus string

const (
	StatusPending  AnalysisStatus = "pending"
	StatusComplete AnalysisStatus = "complete"
	StatusError    AnalysisStatus = "error"
)

// Changed-file statuses we score differently.
const (
	FileAdded    = "added"
	FileModified = "modified"
)

// Finding is a normalized static-analyzer result. Owned by one Analysis;
// mutated only by dismissal, active -> dismissed, never back.
type Finding struct {
	ID              int64      `json:"id,omitempty"`
	AnalysisID      int64      `json:"analysis_id,omitempty"`
	RuleID          string     `json:"rule_id"`
	Category        string     `json:"category"`
	Severity        Severity   `json:"severity"`
	FilePath        string     `json:"file_path"`
	LineStart       int        `json:"line_start"`
	Message         string     `json:"message"`
	Dismissed       bool       `json:"dismissed,omitempty"`
	DismissedReason string     `json:"dismissed_reason,omitempty"`
	DismissedAt     *time.Time `json:"dismissed_at,omitempty"`
}

// BehavioralFlag is a model-asserted risk not derived from static analysis.
// Ephemeral; persisted only as the cached JSON blob on an Analysis.
type BehavioralFlag struct {
	Flag     string       `json:"flag"`
	Severity FlagSeverity `json:"severity"`
	Location string       `json:"location"` // "file:line", may be empty
}

// FileSignal reports one file judged likely AI-authored.
type FileSignal struct {
	Name       string   `json:"name"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
}

// ChangedFile is one entry of a PR diff as fetched from the host.
type ChangedFile struct {
	Name    string `json:"filename"`
	Status  string `json:"status"`
	Patch   string `json:"patch"`
	RawURL  string `json:"raw_url,omitempty"`
	Changes int    `json:"changes,omitempty"`
}

// Commit pairs a SHA with its message.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

// Analysis is one pipeline run for a PR head commit.
type Analysis struct {
	ID              int64          `json:"id"`
	InstallationID  int64          `json:"installation_id"`
	RepoFullName    string         `json:"repo_full_name"`
	PRNumber        int            `json:"pr_number"`
	PRHeadSHA       string         `json:"pr_head_sha"`
	CommentID       int64          `json:"comment_id,omitempty"` // 0 = none
	Status          AnalysisStatus `json:"status"`
	LLMSummary      string         `json:"llm_summary,omitempty"`
	LLMFlags        string         `json:"llm_flags,omitempty"`
	LLMInputTokens  int            `json:"llm_input_tokens,omitempty"`
	LLMOutputTokens int            `json:"llm_output_tokens,omitempty"`
	LLMCostUSD      float64        `json:"llm_cost_usd,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// AnalyzerResult is the outcome of one analyzer invocation.
type AnalyzerResult struct {
	Success  bool      `json:"success"`
	Findings []Finding `json:"findings"`
	Error    string    `json:"error,omitempty"`
	Raw      []byte    `json:"-"` // analyzer stdout, archived when storage is configured
}

// CachedResult is a ResultCache hit.
type CachedResult struct {
	Summary string           `json:"summary"`
	Flags   []BehavioralFlag `json:"flags"`
}

// CostStats aggregates model spend over complete analyses.
type CostStats struct {
	TotalAnalyses  int     `json:"total_analyses"`
	AverageCostUSD float64 `json:"average_cost_usd"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}
