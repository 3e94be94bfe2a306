package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes shape.
const schemaVersion = 1

// ErrSchemaMismatch indicates the event log was written by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func hasVersionTable(ctx context.Context, query func(ctx context.Context, q string, args ...any) rowScanner) (bool, error) {
	var n int
	if err := query(ctx, "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&n); err != nil {
		return false, fmt.Errorf("look up schema_version: %w", err)
	}
	return n > 0, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	present, err := hasVersionTable(ctx, func(ctx context.Context, q string, args ...any) rowScanner {
		return s.db.QueryRowContext(ctx, q, args...)
	})
	if err != nil {
		return err
	}
	if !present {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: event log %s is version %d, this build reads %d; move it aside to start a new log",
			ErrSchemaMismatch, s.path, version, schemaVersion)
	}
	return nil
}

// createSchema installs the tables and append-only triggers in one
// transaction. A concurrent process may win the race, in which case the
// existing schema is kept.
func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	present, err := hasVersionTable(ctx, func(ctx context.Context, q string, args ...any) rowScanner {
		return tx.QueryRowContext(ctx, q, args...)
	})
	if err != nil || present {
		return err
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("install event log schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
