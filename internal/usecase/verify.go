package usecase

import (
	"context"
	"errors"

	"evidencia/internal/domain"
	cryptoinfra "evidencia/internal/infra/crypto"

	"github.com/rs/zerolog"
)

// Verifier resolves a stored proof and everything derived from it.
type Verifier struct {
	Proofs  ProofRepository
	Cache   ProofCache
	Locator MediaLocator
	Codes   CodeGenerator

	PublicBaseURL string
	// ExplorerURL is prefixed to the tx reference of anchored records.
	ExplorerURL string

	Logger zerolog.Logger
}

func (uc *Verifier) Verify(ctx context.Context, id, origin string) (*domain.ResolvedProof, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}
	record, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	base := publicOrigin(uc.PublicBaseURL, origin)

	// legacy rows may lack the URI or the code; both are derived values
	if record.VerificationURI == "" {
		record.VerificationURI = VerificationURI(base, record.ID)
	}
	code := record.VerificationCode
	if code == "" && uc.Codes != nil {
		code, err = uc.Codes.Encode(record.VerificationURI)
		if err != nil {
			uc.Logger.Warn().Err(err).Str("proof_id", id).Msg("regenerate verification code")
			code = ""
		}
	}

	resolved := &domain.ResolvedProof{
		Record:           *record,
		VerificationCode: code,
	}
	if uc.Locator != nil {
		resolved.MediaURL, resolved.HasMedia = uc.Locator.Resolve(record.ID, record.MediaReference, base)
	}
	if record.Anchored() && uc.ExplorerURL != "" {
		resolved.ExplorerURL = uc.ExplorerURL + record.AnchorTxRef
	}
	return resolved, nil
}

// MatchesContent reports whether content is the exact upload the record
// certifies.
func MatchesContent(record domain.ProofRecord, content []byte) bool {
	return record.ContentHash == cryptoinfra.Fingerprint(content)
}

func (uc *Verifier) load(ctx context.Context, id string) (*domain.ProofRecord, error) {
	if uc.Cache != nil {
		cached, ok, err := uc.Cache.Get(ctx, id)
		if err != nil {
			uc.Logger.Warn().Err(err).Str("proof_id", id).Msg("proof cache lookup")
		} else if ok {
			return cached, nil
		}
	}
	record, err := uc.Proofs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if uc.Cache != nil {
		if err := uc.Cache.Put(ctx, *record); err != nil {
			uc.Logger.Warn().Err(err).Str("proof_id", id).Msg("cache proof")
		}
	}
	return record, nil
}
