package run

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"dipscan/internal/domain"
	"dipscan/internal/store"
)

// ModelRegistry manages saved scoring models. Models are immutable: a
// tweaked configuration is a new model.
type ModelRegistry struct {
	models store.ModelStore
}

// NewModelRegistry returns a registry over the given store.
func NewModelRegistry(models store.ModelStore) *ModelRegistry {
	return &ModelRegistry{models: models}
}

// Create validates and saves a new scoring model.
func (r *ModelRegistry) Create(ctx context.Context, name string, weights domain.Weights, threshold float64) (*domain.ScoringModel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, configErrorf("model name must not be empty")
	}
	if weights == nil {
		return nil, configErrorf("model weights must not be empty")
	}
	if err := validateWeights(weights); err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 100 {
		return nil, configErrorf("threshold %.2f outside [0, 100]", threshold)
	}

	m := &domain.ScoringModel{
		ID:        uuid.NewString(),
		Name:      name,
		Weights:   weights,
		Threshold: threshold,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.models.CreateModel(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns a model by id.
func (r *ModelRegistry) Get(ctx context.Context, id string) (*domain.ScoringModel, error) {
	return r.models.GetModel(ctx, id)
}

// List returns all models, newest first.
func (r *ModelRegistry) List(ctx context.Context) ([]domain.ScoringModel, error) {
	return r.models.ListModels(ctx)
}

// Delete removes a model. Runs that referenced it keep their own copy of
// its weights, so deletion never invalidates history.
func (r *ModelRegistry) Delete(ctx context.Context, id string) error {
	return r.models.DeleteModel(ctx, id)
}

// Defaults returns the out-of-the-box weights and threshold.
func (r *ModelRegistry) Defaults() (domain.Weights, float64) {
	return domain.DefaultWeights(), domain.DefaultThreshold
}
