package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailhub/internal/model"
)

// SQLiteStore implements the AccountStore interface using a local
// SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// CreateAccount inserts a new account row.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account model.Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	const query = `
		INSERT INTO accounts (
			id, user_id, provider, email_address,
			token_expiry, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.UserID, string(account.Provider),
		account.EmailAddress, nullableTime(account.TokenExpiry),
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting account %s: %w", account.ID, err)
	}
	return nil
}

// GetAccount returns the account with the given id, or nil when absent.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying account %s: %w", id, err)
	}
	account := row.toModel()
	return &account, nil
}

// GetAccountsByUser returns all accounts owned by a user, oldest first.
func (s *SQLiteStore) GetAccountsByUser(ctx context.Context, userID string) ([]model.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM accounts WHERE user_id = ? ORDER BY created_at ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("querying accounts for user %s: %w", userID, err)
	}

	accounts := make([]model.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.toModel())
	}
	return accounts, nil
}

// UpdateTokenExpiry records the expiry of a rotated access token.
func (s *SQLiteStore) UpdateTokenExpiry(ctx context.Context, id string, expiry time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET token_expiry = ?, updated_at = ? WHERE id = ?",
		nullableTime(expiry), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating token expiry for %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("account %s not found", id)
	}
	return nil
}

// DeleteAccount removes an account row.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	return nil
}

// accountRow is the database shape of an account; token_expiry is
// nullable for app-password accounts.
type accountRow struct {
	ID           string       `db:"id"`
	UserID       string       `db:"user_id"`
	Provider     string       `db:"provider"`
	EmailAddress string       `db:"email_address"`
	TokenExpiry  sql.NullTime `db:"token_expiry"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func (r accountRow) toModel() model.Account {
	account := model.Account{
		ID:           r.ID,
		UserID:       r.UserID,
		Provider:     model.Provider(r.Provider),
		EmailAddress: r.EmailAddress,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.TokenExpiry.Valid {
		account.TokenExpiry = r.TokenExpiry.Time
	}
	return account
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
