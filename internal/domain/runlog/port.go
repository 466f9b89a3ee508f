package runlog

import (
	"context"
)

// Repository defines persistence for run errors.
type Repository interface {
	Save(ctx context.Context, e *RunError) error
	ListRecent(ctx context.Context, limit int) ([]*RunError, error)
}
