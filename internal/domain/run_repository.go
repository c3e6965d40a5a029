package domain

import (
	"context"
	"errors"
)

// ErrRunNotFound is a sentinel error returned when a run record is not found.
var ErrRunNotFound = errors.New("run not found")

// RunRepository defines the interface for persisting and retrieving run records.
type RunRepository interface {
	Save(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// ListRecent returns run records newest first, with pagination.
	ListRecent(ctx context.Context, page, pageSize int) ([]*Run, error)
}
