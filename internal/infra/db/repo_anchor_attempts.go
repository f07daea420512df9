package db

import (
	"context"
	"errors"
	"time"

	"evidencia/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AnchorAttemptRepository struct {
	db *gorm.DB
}

func NewAnchorAttemptRepository(db *gorm.DB) *AnchorAttemptRepository {
	return &AnchorAttemptRepository{db: db}
}

func (r *AnchorAttemptRepository) Append(ctx context.Context, attempt domain.AnchorAttempt) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if attempt.ProofID == "" {
		return errors.New("proof_id is required")
	}
	if attempt.Provider == "" {
		return errors.New("provider is required")
	}
	if attempt.Status == "" {
		return errors.New("status is required")
	}
	if attempt.PayloadHash == "" {
		return errors.New("payload_hash is required")
	}
	id := attempt.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := attempt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	model := AnchorAttemptModel{
		ID:          id,
		ProofID:     attempt.ProofID,
		Provider:    attempt.Provider,
		Status:      attempt.Status,
		ErrorCode:   stringPtrIfNotEmpty(attempt.ErrorCode),
		PayloadHash: attempt.PayloadHash,
		TxRef:       stringPtrIfNotEmpty(attempt.TxRef),
		CreatedAt:   createdAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AnchorAttemptRepository) ListByProofID(ctx context.Context, proofID string) ([]domain.AnchorAttempt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if proofID == "" {
		return nil, errors.New("proof_id is required")
	}
	var models []AnchorAttemptModel
	if err := r.db.WithContext(ctx).
		Where("proof_id = ?", proofID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AnchorAttempt, 0, len(models))
	for _, model := range models {
		out = append(out, anchorAttemptFromModel(model))
	}
	return out, nil
}

func anchorAttemptFromModel(model AnchorAttemptModel) domain.AnchorAttempt {
	return domain.AnchorAttempt{
		ID:          model.ID,
		ProofID:     model.ProofID,
		Provider:    model.Provider,
		Status:      model.Status,
		ErrorCode:   stringValue(model.ErrorCode),
		PayloadHash: model.PayloadHash,
		TxRef:       stringValue(model.TxRef),
		CreatedAt:   model.CreatedAt,
	}
}

var _ domain.AnchorAttemptRepository = (*AnchorAttemptRepository)(nil)
