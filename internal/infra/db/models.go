package db

import "time"

// ProofModel maps the proofs table. Column names match the historical
// sqlite schema so existing databases open unchanged.
type ProofModel struct {
	ID         string  `gorm:"column:id;type:text;primaryKey"`
	Hash       string  `gorm:"column:hash;type:text;not null"`
	Timestamp  int64   `gorm:"column:timestamp;not null;index:idx_proofs_timestamp"`
	Filename   *string `gorm:"column:filename;type:text"`
	Mimetype   *string `gorm:"column:mimetype;type:text"`
	TxHash     *string `gorm:"column:txHash;type:text"`
	URI        *string `gorm:"column:uri;type:text"`
	QR         *string `gorm:"column:qr;type:text"`
	ImageURL   *string `gorm:"column:imageUrl;type:text"`
	AnchorNote *string `gorm:"column:anchorNote;type:text"`
}

func (ProofModel) TableName() string {
	return "proofs"
}

type AnchorAttemptModel struct {
	ID          string    `gorm:"column:id;type:text;primaryKey"`
	ProofID     string    `gorm:"column:proof_id;type:text;index;not null"`
	Provider    string    `gorm:"column:provider;not null"`
	Status      string    `gorm:"column:status;not null"`
	ErrorCode   *string   `gorm:"column:error_code"`
	PayloadHash string    `gorm:"column:payload_hash;not null"`
	TxRef       *string   `gorm:"column:tx_ref"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (AnchorAttemptModel) TableName() string {
	return "anchor_attempts"
}

type SchemaMigrationModel struct {
	Version   int       `gorm:"column:version;primaryKey;autoIncrement:false"`
	Name      string    `gorm:"column:name;not null"`
	AppliedAt time.Time `gorm:"column:applied_at;not null"`
}

func (SchemaMigrationModel) TableName() string {
	return "schema_migrations"
}
