package domain

import (
	"context"
	"time"
)

// LocalOnlyTxRef marks a record that was stored without an on-chain anchor.
const LocalOnlyTxRef = "demo-no-chain"

const (
	AnchorStatusAnchored = "anchored"
	AnchorStatusFailed   = "failed"
	AnchorStatusSkipped  = "skipped"
)

const (
	AnchorErrorNetwork     = "NETWORK"
	AnchorErrorTimeout     = "TIMEOUT"
	AnchorErrorRejected    = "REJECTED"
	AnchorErrorBadConfig   = "BAD_CONFIG"
	AnchorErrorBadPayload  = "BAD_PAYLOAD"
	AnchorErrorPersistence = "PERSISTENCE"
)

const (
	AnchorPolicyFatal   = "fatal"
	AnchorPolicyDegrade = "degrade"
)

type AnchorResult struct {
	Provider    string
	Status      string
	ErrorCode   string
	TxRef       string
	ChainID     string
	Note        string
	PayloadHash string
}

type AnchorService interface {
	// Anchor makes exactly one attempt to register (hash, timestamp, uri).
	// An unconfigured ledger is a skipped result, not an error.
	Anchor(ctx context.Context, proofID, contentHash string, timestamp int64, uri string) (AnchorResult, error)
}

type AnchorAttempt struct {
	ID          string
	ProofID     string
	Provider    string
	Status      string
	ErrorCode   string
	PayloadHash string
	TxRef       string
	CreatedAt   time.Time
}

type AnchorAttemptRepository interface {
	Append(ctx context.Context, attempt AnchorAttempt) error
	ListByProofID(ctx context.Context, proofID string) ([]AnchorAttempt, error)
}

// AnchorError is returned when a configured ledger could not confirm a
// registration. It always matches ErrAnchorFailure.
type AnchorError struct {
	Code string
	Err  error
}

func (e *AnchorError) Error() string {
	if e.Err == nil {
		return "anchor failure: " + e.Code
	}
	return "anchor failure: " + e.Code + ": " + e.Err.Error()
}

func (e *AnchorError) Is(target error) bool {
	return target == ErrAnchorFailure
}

func (e *AnchorError) Unwrap() error {
	return e.Err
}
