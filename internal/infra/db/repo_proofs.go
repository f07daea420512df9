package db

import (
	"context"
	"errors"
	"fmt"

	"evidencia/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProofRepository struct {
	db *gorm.DB
}

func NewProofRepository(db *gorm.DB) *ProofRepository {
	return &ProofRepository{db: db}
}

// Put inserts a new record. An existing id is never overwritten.
func (r *ProofRepository) Put(ctx context.Context, record domain.ProofRecord) error {
	if r.db == nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageFailure, errDBUnavailable)
	}
	if record.ID == "" {
		return errors.New("id is required")
	}
	if record.ContentHash == "" {
		return errors.New("content hash is required")
	}
	model := proofModelFromDomain(record)
	err := r.db.WithContext(ctx).Create(&model).Error
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, record.ID)
	}
	if err != nil {
		return fmt.Errorf("%w: insert proof: %w", domain.ErrStorageFailure, err)
	}
	return nil
}

func (r *ProofRepository) Get(ctx context.Context, id string) (*domain.ProofRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageFailure, errDBUnavailable)
	}
	if id == "" {
		return nil, domain.ErrNotFound
	}
	var model ProofModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load proof: %w", domain.ErrStorageFailure, err)
	}
	record := proofFromModel(model)
	return &record, nil
}

// List returns every record, newest first.
func (r *ProofRepository) List(ctx context.Context) ([]domain.ProofRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageFailure, errDBUnavailable)
	}
	var models []ProofModel
	err := r.db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list proofs: %w", domain.ErrStorageFailure, err)
	}
	out := make([]domain.ProofRecord, 0, len(models))
	for _, model := range models {
		out = append(out, proofFromModel(model))
	}
	return out, nil
}

func proofModelFromDomain(record domain.ProofRecord) ProofModel {
	return ProofModel{
		ID:         record.ID,
		Hash:       record.ContentHash,
		Timestamp:  record.Timestamp,
		Filename:   stringPtrIfNotEmpty(record.Filename),
		Mimetype:   stringPtrIfNotEmpty(record.Mimetype),
		TxHash:     stringPtrIfNotEmpty(record.AnchorTxRef),
		URI:        stringPtrIfNotEmpty(record.VerificationURI),
		QR:         stringPtrIfNotEmpty(record.VerificationCode),
		ImageURL:   stringPtrIfNotEmpty(record.MediaReference),
		AnchorNote: stringPtrIfNotEmpty(record.AnchorNote),
	}
}

func proofFromModel(model ProofModel) domain.ProofRecord {
	return domain.ProofRecord{
		ID:               model.ID,
		ContentHash:      model.Hash,
		Timestamp:        model.Timestamp,
		Filename:         stringValue(model.Filename),
		Mimetype:         stringValue(model.Mimetype),
		AnchorTxRef:      stringValue(model.TxHash),
		VerificationURI:  stringValue(model.URI),
		VerificationCode: stringValue(model.QR),
		MediaReference:   stringValue(model.ImageURL),
		AnchorNote:       stringValue(model.AnchorNote),
	}
}
