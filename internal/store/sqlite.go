// ABOUTME: SQLite implementation of the principal store using modernc.org/sqlite
// ABOUTME: Single-row UPDATE with a guard clause provides the CAS rotation semantics

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements PrincipalStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// busy_timeout goes in the DSN so it applies to every pooled connection,
	// not just the one the PRAGMA happens to run on.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS principals (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			display_name  TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL,
			renewal_ref   TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (role IN ('user', 'admin'))
		);

		CREATE INDEX IF NOT EXISTS idx_principals_email ON principals(email);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreatePrincipal inserts a new principal. The email is stored case-folded;
// a duplicate returns ErrDuplicateEmail.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	query := `
		INSERT INTO principals (id, email, display_name, password_hash, role, renewal_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		FoldEmail(p.Email),
		p.DisplayName,
		p.PasswordHash,
		p.Role,
		p.RenewalRef,
		p.CreatedAt.UTC().Format(time.RFC3339),
		p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting principal: %w", err)
	}

	s.logger.Debug("created principal", "id", p.ID, "role", p.Role)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

const principalColumns = `id, email, display_name, password_hash, role, renewal_ref, created_at, updated_at`

// GetPrincipal retrieves a principal by ID.
// Returns ErrPrincipalNotFound if no such principal exists.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
	return scanPrincipal(row)
}

// GetPrincipalByEmail retrieves a principal by case-folded email.
// Returns ErrPrincipalNotFound if no such principal exists.
func (s *SQLiteStore) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE email = ?`, FoldEmail(email))
	return scanPrincipal(row)
}

func scanPrincipal(row *sql.Row) (*Principal, error) {
	var p Principal
	var renewalRef sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PasswordHash, &p.Role,
		&renewalRef, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning principal: %w", err)
	}

	if renewalRef.Valid {
		p.RenewalRef = &renewalRef.String
	}

	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &p, nil
}

// SetRenewalRef unconditionally overwrites the renewal reference.
// Returns ErrPrincipalNotFound if the principal doesn't exist.
func (s *SQLiteStore) SetRenewalRef(ctx context.Context, id string, ref string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE principals SET renewal_ref = ?, updated_at = ? WHERE id = ?
	`, ref, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("setting renewal ref: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	s.logger.Debug("set renewal ref", "id", id)
	return nil
}

// CompareAndSetRenewalRef rotates the renewal reference only if the stored
// value still equals expectedOld. The guard clause makes the UPDATE a
// compare-and-swap: SQLite serializes writers, so at most one concurrent
// renewal can observe the old value and win.
func (s *SQLiteStore) CompareAndSetRenewalRef(ctx context.Context, id string, expectedOld string, newRef string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE principals
		SET renewal_ref = ?, updated_at = ?
		WHERE id = ? AND renewal_ref = ?
	`, newRef, time.Now().UTC().Format(time.RFC3339), id, expectedOld)
	if err != nil {
		return false, fmt.Errorf("rotating renewal ref: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	if rows == 0 {
		s.logger.Debug("renewal ref CAS lost", "id", id)
		return false, nil
	}

	s.logger.Debug("rotated renewal ref", "id", id)
	return true, nil
}

// ClearRenewalRef drops the renewal reference, invalidating all
// outstanding renewal tokens for the principal.
func (s *SQLiteStore) ClearRenewalRef(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE principals SET renewal_ref = NULL, updated_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("clearing renewal ref: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	s.logger.Debug("cleared renewal ref", "id", id)
	return nil
}

// UpdatePasswordHash replaces the stored credential hash.
func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE principals SET password_hash = ?, updated_at = ? WHERE id = ?
	`, hash, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	return nil
}

// Ensure SQLiteStore implements PrincipalStore
var _ PrincipalStore = (*SQLiteStore)(nil)
