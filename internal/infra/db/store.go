package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"evidencia/internal/config"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store owns the database handle. Callers open it once, run Migrate, and
// Close it on shutdown.
type Store struct {
	DB      *gorm.DB
	Dialect string
}

// Open picks postgres when DATABASE_URL is set and sqlite otherwise.
func Open(ctx context.Context, cfg config.Config) (*Store, error) {
	if cfg.DatabaseURL != "" {
		return OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return OpenSQLite(ctx, cfg.SQLitePath)
}

func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.Wrap(err, "create sqlite directory")
		}
		dsn = sqliteDSN(path)
	}
	gdb, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sqlite handle")
	}
	// one writer at a time; also keeps :memory: on a single connection
	sqlDB.SetMaxOpenConns(1)
	store := &Store{DB: gdb, Dialect: DialectSQLite}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	store := &Store{DB: gdb, Dialect: DialectPostgres}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errDBUnavailable
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return errors.Wrap(err, "database handle")
	}
	return errors.Wrap(sqlDB.PingContext(ctx), "ping database")
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return errors.Wrap(err, "database handle")
	}
	return sqlDB.Close()
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
