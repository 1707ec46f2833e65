// Package store defines storage interfaces for persisting backtest runs,
// their evaluated picks, and saved scoring models.
package store

import (
	"context"
	"errors"
	"time"

	"dipscan/internal/domain"
)

// ErrNotFound is returned when a run or model id does not exist. Callers
// report it as a distinct not-found outcome, never a generic failure.
var ErrNotFound = errors.New("not found")

// RunStore persists backtest runs and their picks. A run's picks are owned
// by the run: deleting the run cascades to them.
type RunStore interface {
	// CreateRun inserts a new run record.
	CreateRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]domain.Run, error)

	// UpdateRunState publishes a run's status, progress, and message as one
	// atomic record update.
	UpdateRunState(ctx context.Context, id string, status domain.RunStatus, progress float64, message string, completedAt *time.Time) error

	// DeleteRun removes a run and all its picks.
	DeleteRun(ctx context.Context, id string) error

	// SavePicks persists a run's evaluated picks.
	SavePicks(ctx context.Context, runID string, picks []domain.Pick) error

	// GetPicks returns a run's picks ordered by loser date, then ranking.
	GetPicks(ctx context.Context, runID string) ([]domain.Pick, error)
}

// ModelStore persists scoring models. Models are immutable after creation;
// there is no update operation.
type ModelStore interface {
	// CreateModel inserts a new scoring model.
	CreateModel(ctx context.Context, m *domain.ScoringModel) error

	// GetModel retrieves a model by id.
	GetModel(ctx context.Context, id string) (*domain.ScoringModel, error)

	// ListModels returns all models, newest first.
	ListModels(ctx context.Context) ([]domain.ScoringModel, error)

	// DeleteModel removes a model.
	DeleteModel(ctx context.Context, id string) error
}
