package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/keyfold/keyfold/internal/storage"
)

// CreateAuthenticator inserts one credential record.
func (s *Store) CreateAuthenticator(ctx context.Context, a storage.Authenticator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(a.CredentialID) == 0 {
		return fmt.Errorf("credential id is required")
	}
	providerAccountID := strings.TrimSpace(a.ProviderAccountID)
	if providerAccountID == "" {
		return fmt.Errorf("provider account id is required")
	}
	if len(a.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}

	now := toMillis(s.now())
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO authenticators (
		   credential_id,
		   provider_account_id,
		   counter,
		   public_key,
		   device_type,
		   backed_up,
		   transports,
		   created_at,
		   updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		encodeCredentialID(a.CredentialID),
		providerAccountID,
		int64(a.Counter),
		a.PublicKey,
		a.DeviceType,
		boolToInt(a.BackedUp),
		strings.Join(a.Transports, ","),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("create authenticator: %w", err)
	}
	return nil
}

// GetAuthenticator fetches a credential by its raw id.
func (s *Store) GetAuthenticator(ctx context.Context, credentialID []byte) (storage.Authenticator, error) {
	if err := ctx.Err(); err != nil {
		return storage.Authenticator{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Authenticator{}, fmt.Errorf("storage is not configured")
	}
	if len(credentialID) == 0 {
		return storage.Authenticator{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT credential_id, provider_account_id, counter, public_key, device_type, backed_up, transports
		 FROM authenticators
		 WHERE credential_id = ?`,
		encodeCredentialID(credentialID),
	)
	return scanAuthenticator(row.Scan)
}

// ListAuthenticatorsByAccountID returns every credential bound to a provider account.
func (s *Store) ListAuthenticatorsByAccountID(ctx context.Context, providerAccountID string) ([]storage.Authenticator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	providerAccountID = strings.TrimSpace(providerAccountID)
	if providerAccountID == "" {
		return nil, fmt.Errorf("provider account id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT credential_id, provider_account_id, counter, public_key, device_type, backed_up, transports
		 FROM authenticators
		 WHERE provider_account_id = ?
		 ORDER BY created_at, credential_id`,
		providerAccountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list authenticators: %w", err)
	}
	defer rows.Close()

	var authenticators []storage.Authenticator
	for rows.Next() {
		a, err := scanAuthenticator(rows.Scan)
		if err != nil {
			return nil, err
		}
		authenticators = append(authenticators, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authenticators: %w", err)
	}
	return authenticators, nil
}

// UpdateAuthenticatorCounter persists a new signature counter.
//
// The strictly-increasing check runs inside the UPDATE itself so two
// concurrent authentications with the same counter cannot both win. A pair of
// zero counters is allowed because authenticators without counter support
// always report zero.
func (s *Store) UpdateAuthenticatorCounter(ctx context.Context, credentialID []byte, newCounter uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(credentialID) == 0 {
		return fmt.Errorf("credential id is required")
	}

	encoded := encodeCredentialID(credentialID)
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE authenticators
		 SET counter = ?1, updated_at = ?2
		 WHERE credential_id = ?3 AND (counter < ?1 OR (counter = 0 AND ?1 = 0))`,
		int64(newCounter),
		toMillis(s.now()),
		encoded,
	)
	if err != nil {
		return fmt.Errorf("update authenticator counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update authenticator counter: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM authenticators WHERE credential_id = ?`, encoded)
	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check authenticator: %w", err)
	}
	return storage.ErrCounterRegression
}

func scanAuthenticator(scan func(dest ...any) error) (storage.Authenticator, error) {
	var a storage.Authenticator
	var encoded string
	var counter int64
	var backedUp int64
	var transports string
	if err := scan(&encoded, &a.ProviderAccountID, &counter, &a.PublicKey, &a.DeviceType, &backedUp, &transports); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Authenticator{}, storage.ErrNotFound
		}
		return storage.Authenticator{}, fmt.Errorf("scan authenticator: %w", err)
	}
	credentialID, err := decodeCredentialID(encoded)
	if err != nil {
		return storage.Authenticator{}, err
	}
	a.CredentialID = credentialID
	a.Counter = uint32(counter)
	a.BackedUp = backedUp != 0
	if transports != "" {
		a.Transports = strings.Split(transports, ",")
	}
	return a, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
