package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"evidencia/internal/domain"

	"github.com/rs/zerolog"
)

const (
	LocalProvider = "local"

	NoteCredentialsMissing = "Blockchain credentials missing. Stored locally only."

	DefaultTimeout = 90 * time.Second
)

// LedgerReceipt is a confirmed registration.
type LedgerReceipt struct {
	TxRef       string
	ChainID     string
	BlockNumber uint64
}

// Ledger registers a payload and waits for confirmation. Errors should be
// *domain.AnchorError where the cause is known; anything else is treated
// as a network failure.
type Ledger interface {
	Name() string
	Register(ctx context.Context, payload Payload) (LedgerReceipt, error)
}

// Service makes exactly one anchoring attempt per call and records it.
type Service struct {
	ledger   Ledger
	attempts domain.AnchorAttemptRepository
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService builds the anchor service. A nil ledger means the chain is not
// configured and every proof is stored locally only.
func NewService(ledger Ledger, attempts domain.AnchorAttemptRepository, timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		ledger:   ledger,
		attempts: attempts,
		timeout:  timeout,
		logger:   logger.With().Str("component", "anchor").Logger(),
		now:      time.Now,
	}
}

// Configured reports whether a ledger is wired.
func (s *Service) Configured() bool {
	return s != nil && s.ledger != nil
}

func (s *Service) Anchor(ctx context.Context, proofID, contentHash string, timestamp int64, uri string) (domain.AnchorResult, error) {
	if s == nil {
		return domain.AnchorResult{}, errors.New("anchor service is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := s.now()

	payload, err := BuildPayload(proofID, contentHash, timestamp, uri)
	if err != nil {
		result := domain.AnchorResult{
			Provider:    s.providerName(),
			Status:      domain.AnchorStatusFailed,
			ErrorCode:   domain.AnchorErrorBadPayload,
			PayloadHash: fallbackPayloadHash(proofID, contentHash),
		}
		s.finish(ctx, proofID, result, start)
		return result, &domain.AnchorError{Code: domain.AnchorErrorBadPayload, Err: err}
	}

	if s.ledger == nil {
		result := domain.AnchorResult{
			Provider:    LocalProvider,
			Status:      domain.AnchorStatusSkipped,
			TxRef:       domain.LocalOnlyTxRef,
			Note:        NoteCredentialsMissing,
			PayloadHash: payload.HashHex,
		}
		s.finish(ctx, proofID, result, start)
		return result, nil
	}

	ledgerCtx, cancel := context.WithTimeout(ctx, s.timeout)
	receipt, err := s.ledger.Register(ledgerCtx, payload)
	ctxErr := ledgerCtx.Err()
	cancel()

	result := domain.AnchorResult{
		Provider:    s.ledger.Name(),
		PayloadHash: payload.HashHex,
	}
	if err == nil && receipt.TxRef == "" {
		err = &domain.AnchorError{Code: domain.AnchorErrorRejected, Err: errors.New("ledger returned no transaction reference")}
	}
	if err != nil {
		code := classify(err, ctxErr)
		result.Status = domain.AnchorStatusFailed
		result.ErrorCode = code
		s.finish(ctx, proofID, result, start)
		var anchorErr *domain.AnchorError
		if errors.As(err, &anchorErr) && anchorErr.Code == code {
			return result, anchorErr
		}
		return result, &domain.AnchorError{Code: code, Err: err}
	}

	result.Status = domain.AnchorStatusAnchored
	result.TxRef = receipt.TxRef
	result.ChainID = receipt.ChainID
	s.finish(ctx, proofID, result, start)
	return result, nil
}

func (s *Service) providerName() string {
	if s.ledger == nil {
		return LocalProvider
	}
	return s.ledger.Name()
}

func (s *Service) finish(ctx context.Context, proofID string, result domain.AnchorResult, start time.Time) {
	observe(result, s.now().Sub(start))
	event := s.logger.Info()
	if result.Status == domain.AnchorStatusFailed {
		event = s.logger.Warn()
	}
	event.
		Str("proof_id", proofID).
		Str("provider", result.Provider).
		Str("status", result.Status).
		Str("error_code", result.ErrorCode).
		Str("tx_ref", result.TxRef).
		Msg("anchor attempt")
	s.persistAttempt(ctx, proofID, result)
}

// persistAttempt is best effort: the ledger outcome stands even when the
// audit row cannot be written. Rows are written before the proof itself, so
// a certification aborted after anchoring leaves a row whose proof_id has no
// record.
func (s *Service) persistAttempt(ctx context.Context, proofID string, result domain.AnchorResult) {
	if s.attempts == nil || proofID == "" {
		return
	}
	attempt := domain.AnchorAttempt{
		ProofID:     proofID,
		Provider:    result.Provider,
		Status:      result.Status,
		ErrorCode:   result.ErrorCode,
		PayloadHash: result.PayloadHash,
		TxRef:       result.TxRef,
		CreatedAt:   s.now().UTC(),
	}
	// the caller's deadline may already be spent by the ledger call
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.attempts.Append(persistCtx, attempt); err != nil {
		attemptPersistFailures.Inc()
		s.logger.Error().Err(err).
			Str("proof_id", proofID).
			Str("error_code", domain.AnchorErrorPersistence).
			Msg("record anchor attempt")
	}
}

func classify(err, ctxErr error) string {
	var anchorErr *domain.AnchorError
	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return domain.AnchorErrorTimeout
	case errors.Is(ctxErr, context.Canceled), errors.Is(err, context.Canceled):
		return domain.AnchorErrorTimeout
	case errors.As(err, &anchorErr) && anchorErr.Code != "":
		return anchorErr.Code
	}
	return domain.AnchorErrorNetwork
}

func fallbackPayloadHash(proofID, contentHash string) string {
	sum := sha256.Sum256([]byte(proofID + "\x00" + contentHash))
	return hex.EncodeToString(sum[:])
}
