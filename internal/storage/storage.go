// Package storage defines the persistence boundary for passkey identity data.
package storage

import (
	"context"
	"time"

	"github.com/keyfold/keyfold/internal/platform/errors"
)

// Provider is the provider name recorded on accounts linked to a passkey.
const Provider = "passkey"

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrCounterRegression indicates a counter update that does not strictly
// increase the stored signature counter. It is the storage-level signal for a
// possibly cloned credential.
var ErrCounterRegression = errors.New(errors.CodeCounterRegression, "signature counter did not increase")

// User is an identity record owned by the host framework.
type User struct {
	ID            string
	Email         string
	EmailVerified *time.Time
}

// Account links a user to a provider-scoped account identity.
type Account struct {
	UserID            string
	Provider          string
	ProviderAccountID string
}

// Authenticator is a WebAuthn credential bound to one provider account.
type Authenticator struct {
	CredentialID      []byte
	ProviderAccountID string
	Counter           uint32
	PublicKey         []byte
	DeviceType        string
	BackedUp          bool
	Transports        []string
}

// UserStore resolves and persists user records.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByAccount(ctx context.Context, provider, providerAccountID string) (User, error)
	CreateUser(ctx context.Context, u User) error
}

// AccountStore resolves and persists provider account links.
type AccountStore interface {
	ListLinkedAccounts(ctx context.Context, userID string) ([]Account, error)
	CreateAccount(ctx context.Context, a Account) error
}

// AuthenticatorStore resolves and persists WebAuthn credentials.
//
// UpdateAuthenticatorCounter must apply the strictly-increasing check
// atomically with the write: two concurrent updates against a cloned
// credential must not both succeed.
type AuthenticatorStore interface {
	ListAuthenticatorsByAccountID(ctx context.Context, providerAccountID string) ([]Authenticator, error)
	GetAuthenticator(ctx context.Context, credentialID []byte) (Authenticator, error)
	CreateAuthenticator(ctx context.Context, a Authenticator) error
	UpdateAuthenticatorCounter(ctx context.Context, credentialID []byte, newCounter uint32) error
}

// Adapter bundles every capability the passkey provider can use. Concrete
// stores may implement any subset; the provider checks the capability it
// needs per operation and fails with a configuration error when it is absent.
type Adapter interface {
	UserStore
	AccountStore
	AuthenticatorStore
}
