package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type migration struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB) error
}

// migrations run in order, once each. Every step also checks the live
// schema before changing it, so replaying a step is a no-op.
var migrations = []migration{
	{Version: 1, Name: "create_proofs", Up: createProofs},
	{Version: 2, Name: "add_proofs_image_url", Up: addProofColumn("ImageURL")},
	{Version: 3, Name: "add_proofs_anchor_note", Up: addProofColumn("AnchorNote")},
	{Version: 4, Name: "create_anchor_attempts", Up: createAnchorAttempts},
	{Version: 5, Name: "index_proofs_timestamp", Up: indexProofsTimestamp},
}

// proofV1 is the proofs table as first shipped, before media references
// and anchor notes were recorded.
type proofV1 struct {
	ID        string  `gorm:"column:id;type:text;primaryKey"`
	Hash      string  `gorm:"column:hash;type:text;not null"`
	Timestamp int64   `gorm:"column:timestamp;not null"`
	Filename  *string `gorm:"column:filename;type:text"`
	Mimetype  *string `gorm:"column:mimetype;type:text"`
	TxHash    *string `gorm:"column:txHash;type:text"`
	URI       *string `gorm:"column:uri;type:text"`
	QR        *string `gorm:"column:qr;type:text"`
}

func (proofV1) TableName() string {
	return "proofs"
}

func createProofs(tx *gorm.DB) error {
	if tx.Migrator().HasTable(&proofV1{}) {
		return nil
	}
	return tx.Migrator().CreateTable(&proofV1{})
}

func addProofColumn(field string) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		if tx.Migrator().HasColumn(&ProofModel{}, field) {
			return nil
		}
		return tx.Migrator().AddColumn(&ProofModel{}, field)
	}
}

func createAnchorAttempts(tx *gorm.DB) error {
	if tx.Migrator().HasTable(&AnchorAttemptModel{}) {
		return nil
	}
	return tx.Migrator().CreateTable(&AnchorAttemptModel{})
}

func indexProofsTimestamp(tx *gorm.DB) error {
	if tx.Migrator().HasIndex(&ProofModel{}, "idx_proofs_timestamp") {
		return nil
	}
	return tx.Migrator().CreateIndex(&ProofModel{}, "idx_proofs_timestamp")
}

// Migrate brings the schema to the latest version and returns the versions
// it applied.
func (s *Store) Migrate(ctx context.Context) ([]int, error) {
	if s == nil || s.DB == nil {
		return nil, errDBUnavailable
	}
	gdb := s.DB.WithContext(ctx)
	if !gdb.Migrator().HasTable(&SchemaMigrationModel{}) {
		if err := gdb.Migrator().CreateTable(&SchemaMigrationModel{}); err != nil {
			return nil, errors.Wrap(err, "create schema_migrations")
		}
	}
	var done []SchemaMigrationModel
	if err := gdb.Find(&done).Error; err != nil {
		return nil, errors.Wrap(err, "load schema_migrations")
	}
	applied := make(map[int]bool, len(done))
	for _, m := range done {
		applied[m.Version] = true
	}

	var ran []int
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		err := gdb.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigrationModel{
				Version:   m.Version,
				Name:      m.Name,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return ran, errors.Wrapf(err, "migration %d %s", m.Version, m.Name)
		}
		ran = append(ran, m.Version)
	}
	return ran, nil
}

// SchemaVersion returns the highest applied migration version, or 0.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errDBUnavailable
	}
	gdb := s.DB.WithContext(ctx)
	if !gdb.Migrator().HasTable(&SchemaMigrationModel{}) {
		return 0, nil
	}
	var latest SchemaMigrationModel
	err := gdb.Order("version DESC").Limit(1).Find(&latest).Error
	if err != nil {
		return 0, errors.Wrap(err, "load schema version")
	}
	return latest.Version, nil
}
