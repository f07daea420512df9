package usecase

import (
	"context"

	"evidencia/internal/domain"
)

type ProofRepository interface {
	Put(ctx context.Context, record domain.ProofRecord) error
	Get(ctx context.Context, id string) (*domain.ProofRecord, error)
	List(ctx context.Context) ([]domain.ProofRecord, error)
}

type MediaStore interface {
	SaveUpload(ctx context.Context, id, mimetype, filename string, data []byte) (name string, reference string, err error)
	Delete(name string) error
}

type MediaLocator interface {
	Resolve(id, reference, origin string) (string, bool)
}

type CodeGenerator interface {
	Encode(text string) (string, error)
}

type AdmissionPolicy interface {
	Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionDecision, error)
}

type ProofCache interface {
	Get(ctx context.Context, id string) (*domain.ProofRecord, bool, error)
	Put(ctx context.Context, record domain.ProofRecord) error
}
