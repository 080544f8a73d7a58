package repository

import (
	"context"

	"github.com/molpadia/molpastory/internal/domain/entity"
)

type SagaRunRepository interface {
	// Claim the run ID. Returns the existing run and false if it was already claimed.
	Reserve(ctx context.Context, run *entity.SagaRun) (*entity.SagaRun, bool, error)
	// Replace prev with run, provided prev is still the stored reservation.
	// Returns false when another run got there first.
	TakeOver(ctx context.Context, run, prev *entity.SagaRun) (bool, error)
	// Save an entity to the persistence.
	Save(ctx context.Context, run *entity.SagaRun) error
	// Release the run ID so the request can be retried.
	Delete(ctx context.Context, id string) error
}
