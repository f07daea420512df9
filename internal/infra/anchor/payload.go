package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	cryptoinfra "evidencia/internal/infra/crypto"
)

const payloadVersion = "evidencia_anchor_v1"

// Payload is what gets registered on the ledger for one proof.
type Payload struct {
	ProofID     string
	ContentHash string
	Hash        [32]byte
	Timestamp   int64
	URI         string
	// CanonicalJSON and HashHex identify the attempt in the audit trail.
	CanonicalJSON []byte
	HashHex       string
}

type payloadDoc struct {
	V           string `json:"v"`
	ProofID     string `json:"proof_id"`
	ContentHash string `json:"content_hash"`
	Timestamp   int64  `json:"timestamp"`
	URI         string `json:"uri"`
}

func BuildPayload(proofID, contentHash string, timestamp int64, uri string) (Payload, error) {
	if proofID == "" {
		return Payload{}, errors.New("proof_id is required")
	}
	hash, err := cryptoinfra.FingerprintBytes(contentHash)
	if err != nil {
		return Payload{}, err
	}
	if timestamp <= 0 {
		return Payload{}, errors.New("timestamp must be positive")
	}
	canonical, err := json.Marshal(payloadDoc{
		V:           payloadVersion,
		ProofID:     proofID,
		ContentHash: contentHash,
		Timestamp:   timestamp,
		URI:         uri,
	})
	if err != nil {
		return Payload{}, err
	}
	sum := sha256.Sum256(canonical)
	return Payload{
		ProofID:       proofID,
		ContentHash:   contentHash,
		Hash:          hash,
		Timestamp:     timestamp,
		URI:           uri,
		CanonicalJSON: canonical,
		HashHex:       hex.EncodeToString(sum[:]),
	}, nil
}
