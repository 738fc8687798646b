package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStorage keeps the chain document in one row of the ledger_chain
// table, keyed by name so several ledgers can share a database. The document
// is stored as TEXT, not JSONB, so it reloads byte-for-byte.
type PostgresStorage struct {
	pool   *pgxpool.Pool
	name   string
	logger *zap.Logger
}

// NewPostgresStorage creates a PostgresStorage for the ledger called name.
func NewPostgresStorage(pool *pgxpool.Pool, name string, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{pool: pool, name: name, logger: logger}
}

// Migrate creates the backing tables if they do not exist.
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_chain (
			name       TEXT PRIMARY KEY,
			document   TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS ledger_chain_quarantine (
			id             BIGSERIAL PRIMARY KEY,
			name           TEXT NOT NULL,
			document       TEXT NOT NULL,
			quarantined_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("migrate ledger tables: %w", err)
	}
	return nil
}

// Load implements Storage.
func (s *PostgresStorage) Load(ctx context.Context) ([]byte, error) {
	var doc string
	err := s.pool.QueryRow(ctx,
		"SELECT document FROM ledger_chain WHERE name = $1", s.name,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("select ledger document: %w", err)
	}
	return []byte(doc), nil
}

// Save implements Storage. A single upsert replaces the document atomically.
func (s *PostgresStorage) Save(ctx context.Context, doc []byte) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_chain (name, document, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = now()`,
		s.name, string(doc),
	); err != nil {
		return fmt.Errorf("upsert ledger document: %w", err)
	}
	s.logger.Debug("ledger document saved", zap.String("name", s.name), zap.Int("bytes", len(doc)))
	return nil
}

// Quarantine implements Quarantiner by moving the current row into
// ledger_chain_quarantine within one transaction.
func (s *PostgresStorage) Quarantine(ctx context.Context) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO ledger_chain_quarantine (name, document)
		 SELECT name, document FROM ledger_chain WHERE name = $1
		 RETURNING id`, s.name,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("copy ledger document: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM ledger_chain WHERE name = $1", s.name); err != nil {
		return "", fmt.Errorf("delete ledger document: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit quarantine: %w", err)
	}
	return fmt.Sprintf("postgres:ledger_chain_quarantine/%d", id), nil
}
