package sqlite

import (
	"context"

	"github.com/codesentry/codesentry/internal/domain/runlog"
)

// RunLogRepo persists run-error audit rows. Implements runlog.Repository.
type RunLogRepo struct {
	store *Store
}

func NewRunLogRepo(store *Store) *RunLogRepo {
	return &RunLogRepo{store: store}
}

func (r *RunLogRepo) Save(ctx context.Context, e *runlog.RunError) error {
	const q = `
INSERT INTO run_errors (analysis_id, repo_full_name, pr_number, stage, message, details_json, created_at)
VALUES (?,?,?,?,?,?,?)`
	_, err := r.store.db.ExecContext(ctx, q,
		nullInt64(e.AnalysisID), e.RepoFullName, e.PRNumber, e.Stage, e.Message, e.DetailsJSON, e.CreatedAt.UTC())
	return err
}

func (r *RunLogRepo) ListRecent(ctx context.Context, limit int) ([]*runlog.RunError, error) {
	const q = `
SELECT id, COALESCE(analysis_id, 0), repo_full_name, pr_number, stage, message, COALESCE(details_json, ''), created_at
FROM run_errors ORDER BY id DESC LIMIT ?`
	rows, err := r.store.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*runlog.RunError
	for rows.Next() {
		var e runlog.RunError
		if err := rows.Scan(&e.ID, &e.AnalysisID, &e.RepoFullName, &e.PRNumber, &e.Stage, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
