// Package journal is the durable record of past deployment attempts.
// It backs the skip-if-already-installed decision, so a write must be
// durable before the process exits: the next invocation (possibly a
// retry after a crash) reads the latest entry to choose skip vs
// redeploy. Journal I/O failures are fatal to the deployment; they are
// never retried or swallowed, because silently losing idempotency state
// is worse than failing loudly.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/stevedore-deploy/stevedore/pkg/names"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed installation journal. The database file
// is shared across sequential agent invocations and, potentially,
// concurrent agent processes on the same machine; WAL mode plus a busy
// timeout provide the required multi-process discipline.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a journal store for the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("journal database path is required")
	}
	return &Store{path: path}, nil
}

// Init opens the database and applies connection settings. Synchronous
// is FULL, not NORMAL: a journal commit is the deployment's crash
// recovery point and must survive power loss, not just process death.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open journal database: %w", err)
	}

	// One short-lived process; a pool buys nothing here.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping journal database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("journal database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run journal migrations: %w", err)
	}

	return nil
}

// Open is the usual entry point: create, init and migrate in one call.
func Open(ctx context.Context, path string) (*Store, error) {
	s, err := NewStore(path)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// GetLatestInstallation returns the most recent entry for the key, or
// nil when no prior attempt exists. The package id matches
// case-insensitively and the version under the versioning scheme;
// both are properties of the stored, normalized form, so this is a
// single indexed query.
func (s *Store) GetLatestInstallation(ctx context.Context, policySet, packageID string, version names.Version) (*Entry, error) {
	query := `
		SELECT id, retention_policy_set, package_id,
		       version_major, version_minor, version_patch, version_revision, version_prerelease,
		       was_successful, extracted_to, recorded_at
		FROM journal_entries
		WHERE retention_policy_set = ?
		  AND package_id = ?
		  AND version_major = ? AND version_minor = ? AND version_patch = ? AND version_revision = ?
		  AND version_prerelease = ?
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT 1
	`

	entry := &Entry{}
	err := s.db.QueryRowContext(ctx, query,
		policySet,
		packageID,
		version.Major, version.Minor, version.Patch, version.Revision,
		version.Prerelease,
	).Scan(
		&entry.ID,
		&entry.RetentionPolicySet,
		&entry.PackageID,
		&entry.Version.Major, &entry.Version.Minor, &entry.Version.Patch, &entry.Version.Revision,
		&entry.Version.Prerelease,
		&entry.WasSuccessful,
		&entry.ExtractedTo,
		&entry.RecordedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}

	return entry, nil
}

// Record appends an entry for this attempt. Prior entries for other
// keys are untouched; prior entries for the same key are superseded by
// recency, not deleted (retention pruning is external). The insert
// commits before Record returns, which with synchronous=FULL makes the
// write safe against immediate process termination.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO journal_entries (
			id, retention_policy_set, package_id,
			version_major, version_minor, version_patch, version_revision, version_prerelease,
			was_successful, extracted_to, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.RetentionPolicySet,
		entry.PackageID,
		entry.Version.Major, entry.Version.Minor, entry.Version.Patch, entry.Version.Revision,
		entry.Version.Prerelease,
		entry.WasSuccessful,
		entry.ExtractedTo,
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}

	return nil
}
