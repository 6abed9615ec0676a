// Package identitystore is the GORM-backed implementation of
// identity.Port. It supports SQLite (default, single-node) and PostgreSQL
// (HA-capable) behind the same code, the way marmos91/dittofs's
// pkg/controlplane/store package does.
package identitystore

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/umputun/sftpcloud/internal/identity"
)

// Store is a GORM-backed identity.Port.
type Store struct {
	db     *gorm.DB
	config *Config
}

// New opens the configured database, runs auto-migration for the Identity
// Store Port's three collections (users, connections, transfers; spec.md
// §6), and returns a ready-to-use Store.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case TypeSQLite:
		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)
	case TypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}

	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	if config.Type == TypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(&identity.User{}, &identity.Connection{}, &identity.Transfer{}); err != nil {
		return nil, fmt.Errorf("failed to run store migration: %w", err)
	}

	return &Store{db: db, config: config}, nil
}

// DB returns the underlying GORM handle, for use by tests and the
// out-of-scope admin surface.
func (s *Store) DB() *gorm.DB { return s.db }

var _ identity.Port = (*Store)(nil)
