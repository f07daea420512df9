package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evidencia/internal/domain"
	cryptoinfra "evidencia/internal/infra/crypto"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultCertifyTimeout = 120 * time.Second

	persistTimeout = 10 * time.Second
)

type CertifyRequest struct {
	Content  []byte
	Filename string
	Mimetype string
	// Origin is scheme://host of the incoming request, used when no public
	// base URL is configured.
	Origin string
}

// Certifier turns one upload into a persisted proof record.
type Certifier struct {
	Proofs    ProofRepository
	Media     MediaStore
	Codes     CodeGenerator
	Anchor    domain.AnchorService
	Admission AdmissionPolicy
	Cache     ProofCache

	PublicBaseURL       string
	MaxUploadBytes      int64
	AnchorFailurePolicy string
	Timeout             time.Duration

	// SniffMimetype replaces a missing or generic client mimetype.
	SniffMimetype func(declared string, content []byte) string

	Logger zerolog.Logger
	Now    func() time.Time
	NewID  func() string
}

func (uc *Certifier) Certify(ctx context.Context, req CertifyRequest) (*domain.CertifyResult, error) {
	if len(req.Content) == 0 {
		return nil, domain.ErrFileRequired
	}
	size := int64(len(req.Content))
	if uc.MaxUploadBytes > 0 && size > uc.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrPayloadTooLarge, size, uc.MaxUploadBytes)
	}
	mimetype := req.Mimetype
	if uc.SniffMimetype != nil {
		mimetype = uc.SniffMimetype(req.Mimetype, req.Content)
	}
	if err := uc.admit(ctx, req.Filename, mimetype, size); err != nil {
		return nil, err
	}

	timeout := uc.Timeout
	if timeout <= 0 {
		timeout = DefaultCertifyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := cryptoinfra.Fingerprint(req.Content)
	id := uc.newID()
	timestamp := uc.now().Unix()
	logger := uc.Logger.With().Str("proof_id", id).Logger()

	mediaName, mediaRef, err := uc.Media.SaveUpload(ctx, id, mimetype, req.Filename, req.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: save media: %w", domain.ErrStorageFailure, err)
	}
	// nothing below may leave the media file addressable without a record
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := uc.Media.Delete(mediaName); err != nil {
			logger.Error().Err(err).Str("media", mediaName).Msg("remove media after failed certification")
		}
	}()

	uri := VerificationURI(publicOrigin(uc.PublicBaseURL, req.Origin), id)
	code, err := uc.Codes.Encode(uri)
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	anchored, err := uc.Anchor.Anchor(ctx, id, hash, timestamp, uri)
	if err != nil {
		if !errors.Is(err, domain.ErrAnchorFailure) || uc.AnchorFailurePolicy != domain.AnchorPolicyDegrade {
			return nil, err
		}
		anchored = degradedResult(anchored, err)
		logger.Warn().Err(err).Str("error_code", anchored.ErrorCode).Msg("anchoring failed, storing locally")
	}

	record := domain.ProofRecord{
		ID:               id,
		ContentHash:      hash,
		Timestamp:        timestamp,
		Filename:         req.Filename,
		Mimetype:         mimetype,
		MediaReference:   mediaRef,
		AnchorTxRef:      anchored.TxRef,
		AnchorNote:       anchored.Note,
		VerificationURI:  uri,
		VerificationCode: code,
	}

	// the ledger may already hold this proof, so the write outlives the
	// request deadline
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()
	if err := uc.Proofs.Put(persistCtx, record); err != nil {
		if !errors.Is(err, domain.ErrStorageFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrStorageFailure, err)
		}
		return nil, err
	}
	committed = true

	if uc.Cache != nil {
		if err := uc.Cache.Put(persistCtx, record); err != nil {
			logger.Warn().Err(err).Msg("cache proof")
		}
	}
	logger.Info().
		Str("hash", hash).
		Str("mimetype", mimetype).
		Int64("size_bytes", size).
		Str("tx_ref", record.AnchorTxRef).
		Bool("anchored", record.Anchored()).
		Msg("proof certified")

	return &domain.CertifyResult{Record: record, Note: record.AnchorNote}, nil
}

func (uc *Certifier) admit(ctx context.Context, filename, mimetype string, size int64) error {
	if uc.Admission == nil {
		return nil
	}
	decision, err := uc.Admission.Evaluate(ctx, domain.AdmissionInput{
		Filename:  filename,
		Mimetype:  mimetype,
		SizeBytes: size,
		MaxBytes:  uc.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("evaluate admission policy: %w", err)
	}
	if !decision.Allow {
		return &domain.AdmissionError{Reasons: decision.Reasons}
	}
	return nil
}

func degradedResult(result domain.AnchorResult, err error) domain.AnchorResult {
	code := result.ErrorCode
	var anchorErr *domain.AnchorError
	if code == "" && errors.As(err, &anchorErr) {
		code = anchorErr.Code
	}
	result.ErrorCode = code
	result.TxRef = domain.LocalOnlyTxRef
	result.Note = fmt.Sprintf("Blockchain anchoring failed (%s). Stored locally only.", code)
	return result
}

func (uc *Certifier) now() time.Time {
	if uc.Now != nil {
		return uc.Now()
	}
	return time.Now()
}

func (uc *Certifier) newID() string {
	if uc.NewID != nil {
		return uc.NewID()
	}
	return uuid.NewString()
}
