package runlog

import "time"

// RunError is a persisted audit entry for a failed pipeline stage.
type RunError struct {
	ID           int64     `json:"id"`
	AnalysisID   int64     `json:"analysis_id,omitempty"` // 0 when the run died before a row existed
	RepoFullName string    `json:"repo_full_name"`
	PRNumber     int       `json:"pr_number"`
	Stage        string    `json:"stage"` // fetch | detect | analyze | model | comment | other
	Message      string    `json:"message"`
	DetailsJSON  string    `json:"details_json,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
