// Package sqlite provides a SQLite-backed implementation of the passkey
// storage adapter.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/keyfold/keyfold/internal/platform/storage/sqlitemigrate"
	"github.com/keyfold/keyfold/internal/storage"
	"github.com/keyfold/keyfold/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists users, accounts, and authenticators in SQLite.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// encodeCredentialID normalizes raw credential ids into the stored key form.
func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCredentialID(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode credential id: %w", err)
	}
	return raw, nil
}

// Open opens a SQLite identity store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, clock: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

// CreateUser inserts one user record.
func (s *Store) CreateUser(ctx context.Context, u storage.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID := strings.TrimSpace(u.ID)
	email := strings.TrimSpace(u.Email)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}

	verified := sql.NullInt64{}
	if u.EmailVerified != nil {
		verified = sql.NullInt64{Int64: toMillis(*u.EmailVerified), Valid: true}
	}
	now := toMillis(s.now())

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (id, email, email_verified_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (email) DO UPDATE SET updated_at = excluded.updated_at`,
		userID,
		email,
		verified,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByEmail fetches a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return storage.User{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, email, email_verified_at FROM users WHERE email = ?`,
		email,
	)
	return scanUser(row)
}

// GetUserByAccount resolves the user owning a provider account.
func (s *Store) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	provider = strings.TrimSpace(provider)
	providerAccountID = strings.TrimSpace(providerAccountID)
	if provider == "" || providerAccountID == "" {
		return storage.User{}, fmt.Errorf("provider and provider account id are required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT u.id, u.email, u.email_verified_at
		 FROM users u
		 JOIN accounts a ON a.user_id = u.id
		 WHERE a.provider = ? AND a.provider_account_id = ?`,
		provider,
		providerAccountID,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (storage.User, error) {
	var u storage.User
	var verified sql.NullInt64
	if err := row.Scan(&u.ID, &u.Email, &verified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("scan user: %w", err)
	}
	if verified.Valid {
		value := fromMillis(verified.Int64)
		u.EmailVerified = &value
	}
	return u, nil
}

// CreateAccount inserts one provider account link. Re-linking an existing
// provider account is a no-op so an added credential can reuse the account.
func (s *Store) CreateAccount(ctx context.Context, a storage.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID := strings.TrimSpace(a.UserID)
	provider := strings.TrimSpace(a.Provider)
	providerAccountID := strings.TrimSpace(a.ProviderAccountID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if provider == "" {
		return fmt.Errorf("provider is required")
	}
	if providerAccountID == "" {
		return fmt.Errorf("provider account id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO accounts (provider, provider_account_id, user_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider, provider_account_id) DO NOTHING`,
		provider,
		providerAccountID,
		userID,
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// ListLinkedAccounts returns every provider account linked to a user.
func (s *Store) ListLinkedAccounts(ctx context.Context, userID string) ([]storage.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT user_id, provider, provider_account_id
		 FROM accounts
		 WHERE user_id = ?
		 ORDER BY provider, provider_account_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []storage.Account
	for rows.Next() {
		var a storage.Account
		if err := rows.Scan(&a.UserID, &a.Provider, &a.ProviderAccountID); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}
