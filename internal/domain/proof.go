package domain

import "time"

// ProofRecord is the persisted certificate for one submission. Records are
// append-only: nothing in this module updates or deletes them once written.
type ProofRecord struct {
	ID               string
	ContentHash      string
	Timestamp        int64
	Filename         string
	Mimetype         string
	MediaReference   string
	AnchorTxRef      string
	AnchorNote       string
	VerificationURI  string
	VerificationCode string
}

func (r ProofRecord) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// Anchored reports whether the record carries a real ledger reference.
func (r ProofRecord) Anchored() bool {
	return r.AnchorTxRef != "" && r.AnchorTxRef != LocalOnlyTxRef
}

// ResolvedProof is a stored record plus everything derived at lookup time.
type ResolvedProof struct {
	Record           ProofRecord
	VerificationCode string
	MediaURL         string
	HasMedia         bool
	ExplorerURL      string
}

type CertifyResult struct {
	Record ProofRecord
	Note   string
}
