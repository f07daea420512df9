package usecase

import (
	"context"

	"evidencia/internal/domain"
)

type History struct {
	Proofs ProofRepository
}

// List returns every proof, newest first.
func (uc *History) List(ctx context.Context) ([]domain.ProofRecord, error) {
	return uc.Proofs.List(ctx)
}
