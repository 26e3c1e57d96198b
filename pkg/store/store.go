package store

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/config"
)

// Store bundles the relational repositories over one gorm connection.
type Store struct {
	db *gorm.DB

	Sandboxes   *SandboxRepo
	Sessions    *SessionRepo
	Cargos      *CargoRepo
	Executions  *ExecutionRepo
	Skills      *SkillRepo
	Idempotency *IdempotencyRepo
	Leases      *LeaseRepo
}

// New opens the configured database and wires the repositories.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.URL)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Type == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying db: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return wrap(db), nil
}

// NewTest opens an in-memory SQLite store with the schema migrated, for
// tests.
func NewTest() (*Store, error) {
	s, err := New(&config.DatabaseConfig{Type: "sqlite", Path: ":memory:"})
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func wrap(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		Sandboxes:   &SandboxRepo{db: db},
		Sessions:    &SessionRepo{db: db},
		Cargos:      &CargoRepo{db: db},
		Executions:  &ExecutionRepo{db: db},
		Skills:      &SkillRepo{db: db},
		Idempotency: &IdempotencyRepo{db: db},
		Leases:      &LeaseRepo{db: db},
	}
}

// Migrate creates or updates the schema for all models.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&SandboxModel{},
		&SessionModel{},
		&CargoModel{},
		&ExecutionModel{},
		&SkillCandidateModel{},
		&SkillReleaseModel{},
		&IdempotencyModel{},
		&GCLeaseModel{},
	)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps gorm errors onto the public taxonomy at the storage
// boundary; raw driver errors never escape this package.
func translate(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bayerr.NotFound(resource, id)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return bayerr.Newf(bayerr.CodeConflict, "%s already exists: %s", resource, id)
	}
	return bayerr.Internal(err)
}
