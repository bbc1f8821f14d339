// Package storage holds the Postgres repositories of the coordination core.
package storage

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

// Store handles all database operations of the worker and API services
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	jobs   map[domain.Kind]*JobRepository
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		logger: logger,
		jobs:   make(map[domain.Kind]*JobRepository, len(jobTables)),
	}
	for kind, table := range jobTables {
		s.jobs[kind] = &JobRepository{db: db, kind: kind, table: table, logger: logger}
	}
	return s
}

// EnsureSchema creates missing tables and indexes
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Database schema ensured")
	return nil
}

// Jobs returns the repository for one job kind
func (s *Store) Jobs(kind domain.Kind) *JobRepository {
	return s.jobs[kind]
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return postgresql.InTx(ctx, s.db, fn)
}
