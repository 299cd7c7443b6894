package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyfold/keyfold/internal/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func seedAuthenticator(t *testing.T, store *Store, credentialID string, counter uint32) {
	t.Helper()
	err := store.CreateAuthenticator(context.Background(), storage.Authenticator{
		CredentialID:      []byte(credentialID),
		ProviderAccountID: "acct-1",
		Counter:           counter,
		PublicKey:         []byte("pk-" + credentialID),
		DeviceType:        "singleDevice",
	})
	if err != nil {
		t.Fatalf("create authenticator: %v", err)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStore_CreateAndGetUser(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	verified := time.Date(2025, 2, 1, 10, 30, 0, 0, time.UTC)
	user := storage.User{ID: "user-1", Email: "a@x.com", EmailVerified: &verified}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := store.GetUserByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if got.ID != "user-1" || got.Email != "a@x.com" {
		t.Fatalf("user = %+v", got)
	}
	if got.EmailVerified == nil || !got.EmailVerified.Equal(verified) {
		t.Fatalf("email verified = %v, want %v", got.EmailVerified, verified)
	}
}

func TestStore_CreateUserTwiceKeepsRecord(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, storage.User{ID: "user-1", Email: "a@x.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateUser(ctx, storage.User{ID: "user-2", Email: "a@x.com"}); err != nil {
		t.Fatalf("repeat create user: %v", err)
	}

	got, err := store.GetUserByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if got.ID != "user-1" {
		t.Fatalf("user id = %q, want the original record", got.ID)
	}
}

func TestStore_GetUserByEmailNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetUserByEmail(context.Background(), "missing@x.com")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestStore_GetUserByAccount(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, storage.User{ID: "user-1", Email: "a@x.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	account := storage.Account{UserID: "user-1", Provider: storage.Provider, ProviderAccountID: "acct-1"}
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	// Re-linking the same provider account is a no-op, not a failure.
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("repeat create account: %v", err)
	}

	got, err := store.GetUserByAccount(ctx, storage.Provider, "acct-1")
	if err != nil {
		t.Fatalf("get user by account: %v", err)
	}
	if got.ID != "user-1" {
		t.Fatalf("user id = %q, want %q", got.ID, "user-1")
	}

	if _, err := store.GetUserByAccount(ctx, storage.Provider, "acct-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestStore_ListLinkedAccounts(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, storage.User{ID: "user-1", Email: "a@x.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, id := range []string{"acct-2", "acct-1"} {
		account := storage.Account{UserID: "user-1", Provider: storage.Provider, ProviderAccountID: id}
		if err := store.CreateAccount(ctx, account); err != nil {
			t.Fatalf("create account %s: %v", id, err)
		}
	}

	accounts, err := store.ListLinkedAccounts(ctx, "user-1")
	if err != nil {
		t.Fatalf("list linked accounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(accounts))
	}
	if accounts[0].ProviderAccountID != "acct-1" || accounts[1].ProviderAccountID != "acct-2" {
		t.Fatalf("accounts = %+v, want ordered by provider account id", accounts)
	}

	accounts, err = store.ListLinkedAccounts(ctx, "user-other")
	if err != nil {
		t.Fatalf("list linked accounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("accounts = %+v, want none", accounts)
	}
}

func TestStore_CreateAndGetAuthenticator(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	in := storage.Authenticator{
		CredentialID:      []byte{0x01, 0xFF, 0x00, 0x7E},
		ProviderAccountID: "acct-1",
		Counter:           7,
		PublicKey:         []byte("pk"),
		DeviceType:        "multiDevice",
		BackedUp:          true,
		Transports:        []string{"internal", "hybrid"},
	}
	if err := store.CreateAuthenticator(ctx, in); err != nil {
		t.Fatalf("create authenticator: %v", err)
	}

	got, err := store.GetAuthenticator(ctx, in.CredentialID)
	if err != nil {
		t.Fatalf("get authenticator: %v", err)
	}
	if string(got.CredentialID) != string(in.CredentialID) {
		t.Fatalf("credential id = %x, want %x", got.CredentialID, in.CredentialID)
	}
	if got.Counter != 7 || got.DeviceType != "multiDevice" || !got.BackedUp {
		t.Fatalf("authenticator = %+v", got)
	}
	if len(got.Transports) != 2 || got.Transports[0] != "internal" || got.Transports[1] != "hybrid" {
		t.Fatalf("transports = %v", got.Transports)
	}
}

func TestStore_GetAuthenticatorNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetAuthenticator(context.Background(), []byte("missing"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestStore_ListAuthenticatorsByAccountID(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	seedAuthenticator(t, store, "cred-a", 1)
	seedAuthenticator(t, store, "cred-b", 2)
	err := store.CreateAuthenticator(ctx, storage.Authenticator{
		CredentialID:      []byte("cred-other"),
		ProviderAccountID: "acct-2",
		PublicKey:         []byte("pk"),
		DeviceType:        "singleDevice",
	})
	if err != nil {
		t.Fatalf("create authenticator: %v", err)
	}

	authenticators, err := store.ListAuthenticatorsByAccountID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("list authenticators: %v", err)
	}
	if len(authenticators) != 2 {
		t.Fatalf("authenticators = %d, want 2", len(authenticators))
	}
}

func TestStore_UpdateAuthenticatorCounter(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	seedAuthenticator(t, store, "cred-a", 5)

	if err := store.UpdateAuthenticatorCounter(ctx, []byte("cred-a"), 6); err != nil {
		t.Fatalf("advance counter: %v", err)
	}
	got, err := store.GetAuthenticator(ctx, []byte("cred-a"))
	if err != nil {
		t.Fatalf("get authenticator: %v", err)
	}
	if got.Counter != 6 {
		t.Fatalf("counter = %d, want 6", got.Counter)
	}
}

func TestStore_UpdateAuthenticatorCounterRegression(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	seedAuthenticator(t, store, "cred-a", 5)

	for _, counter := range []uint32{4, 5} {
		if err := store.UpdateAuthenticatorCounter(ctx, []byte("cred-a"), counter); !errors.Is(err, storage.ErrCounterRegression) {
			t.Fatalf("counter %d: err = %v, want %v", counter, err, storage.ErrCounterRegression)
		}
	}

	got, err := store.GetAuthenticator(ctx, []byte("cred-a"))
	if err != nil {
		t.Fatalf("get authenticator: %v", err)
	}
	if got.Counter != 5 {
		t.Fatalf("counter = %d, want unchanged 5", got.Counter)
	}
}

func TestStore_UpdateAuthenticatorCounterZeroPair(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	seedAuthenticator(t, store, "cred-a", 0)

	// Authenticators without counter support always report zero.
	if err := store.UpdateAuthenticatorCounter(ctx, []byte("cred-a"), 0); err != nil {
		t.Fatalf("zero counter pair: %v", err)
	}
}

func TestStore_UpdateAuthenticatorCounterNotFound(t *testing.T) {
	store := openTempStore(t)

	err := store.UpdateAuthenticatorCounter(context.Background(), []byte("missing"), 1)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, storage.ErrNotFound)
	}
}
