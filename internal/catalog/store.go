package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current catalog schema version. The catalog is
// rebuildable from the backup directory, so a mismatch only requires deleting
// the database file.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const recordColumns = "id, world, path, size_bytes, created_at, status, format"

// Store persists catalog metadata in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the catalog database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s; it is rebuilt from the backup directory)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// List returns every persisted record in identity order.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := retryOnBusy(ctx, func() error {
		records = records[:0]
		rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+" FROM backups ORDER BY id")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	return records, nil
}

// Insert adds a record.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO backups ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
			recordArgs(rec)...)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert backup %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a record by identity. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM backups WHERE id = ?", id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete backup %s: %w", id, err)
	}
	return nil
}

// ReplaceAll atomically swaps the persisted set for records.
func (s *Store) ReplaceAll(ctx context.Context, records []Record) error {
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, "DELETE FROM backups"); err != nil {
			return err
		}
		for _, rec := range records {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO backups ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
				recordArgs(rec)...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("replace backups: %w", err)
	}
	return nil
}

func recordArgs(rec Record) []any {
	return []any{
		rec.ID,
		rec.World,
		rec.Path,
		rec.SizeBytes,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(rec.Status),
		rec.Format,
	}
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		rec        Record
		createdRaw string
		status     string
	)
	if err := scanner.Scan(&rec.ID, &rec.World, &rec.Path, &rec.SizeBytes, &createdRaw, &status, &rec.Format); err != nil {
		return Record{}, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at for %s: %w", rec.ID, err)
	}
	rec.CreatedAt = created.UTC()
	rec.Status = Status(status)
	return rec, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyRetryInitialBackoff
	policy.MaxInterval = busyRetryMaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !isSQLiteBusy(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(busyRetryAttempts),
	)
	return err
}
