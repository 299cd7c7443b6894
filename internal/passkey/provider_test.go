package passkey

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/keyfold/keyfold/internal/passkey/challenge"
	"github.com/keyfold/keyfold/internal/storage"
)

type fakeStore struct {
	usersByEmail   map[string]storage.User
	usersByAccount map[string]storage.User
	accountsByUser map[string][]storage.Account
	authenticators map[string]storage.Authenticator

	getUserErr       error
	listAccountsErr  error
	getAuthErr       error
	listAuthErr      error
	createUserErr    error
	createAccountErr error
	createAuthErr    error
	updateCounterErr error

	createdUsers          []storage.User
	createdAccounts       []storage.Account
	createdAuthenticators []storage.Authenticator
	counterUpdates        []uint32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByEmail:   make(map[string]storage.User),
		usersByAccount: make(map[string]storage.User),
		accountsByUser: make(map[string][]storage.Account),
		authenticators: make(map[string]storage.Authenticator),
	}
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (storage.User, error) {
	if s.getUserErr != nil {
		return storage.User{}, s.getUserErr
	}
	user, ok := s.usersByEmail[email]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return user, nil
}

func (s *fakeStore) GetUserByAccount(_ context.Context, provider, providerAccountID string) (storage.User, error) {
	if s.getUserErr != nil {
		return storage.User{}, s.getUserErr
	}
	user, ok := s.usersByAccount[provider+"/"+providerAccountID]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return user, nil
}

func (s *fakeStore) CreateUser(_ context.Context, u storage.User) error {
	if s.createUserErr != nil {
		return s.createUserErr
	}
	s.createdUsers = append(s.createdUsers, u)
	s.usersByEmail[u.Email] = u
	return nil
}

func (s *fakeStore) ListLinkedAccounts(_ context.Context, userID string) ([]storage.Account, error) {
	if s.listAccountsErr != nil {
		return nil, s.listAccountsErr
	}
	return s.accountsByUser[userID], nil
}

func (s *fakeStore) CreateAccount(_ context.Context, a storage.Account) error {
	if s.createAccountErr != nil {
		return s.createAccountErr
	}
	s.createdAccounts = append(s.createdAccounts, a)
	s.accountsByUser[a.UserID] = append(s.accountsByUser[a.UserID], a)
	s.usersByAccount[a.Provider+"/"+a.ProviderAccountID] = storage.User{ID: a.UserID}
	return nil
}

func (s *fakeStore) ListAuthenticatorsByAccountID(_ context.Context, providerAccountID string) ([]storage.Authenticator, error) {
	if s.listAuthErr != nil {
		return nil, s.listAuthErr
	}
	var out []storage.Authenticator
	for _, a := range s.authenticators {
		if a.ProviderAccountID == providerAccountID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) GetAuthenticator(_ context.Context, credentialID []byte) (storage.Authenticator, error) {
	if s.getAuthErr != nil {
		return storage.Authenticator{}, s.getAuthErr
	}
	a, ok := s.authenticators[string(credentialID)]
	if !ok {
		return storage.Authenticator{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) CreateAuthenticator(_ context.Context, a storage.Authenticator) error {
	if s.createAuthErr != nil {
		return s.createAuthErr
	}
	s.createdAuthenticators = append(s.createdAuthenticators, a)
	s.authenticators[string(a.CredentialID)] = a
	return nil
}

func (s *fakeStore) UpdateAuthenticatorCounter(_ context.Context, credentialID []byte, newCounter uint32) error {
	if s.updateCounterErr != nil {
		return s.updateCounterErr
	}
	a, ok := s.authenticators[string(credentialID)]
	if !ok {
		return storage.ErrNotFound
	}
	a.Counter = newCounter
	s.authenticators[string(credentialID)] = a
	s.counterUpdates = append(s.counterUpdates, newCounter)
	return nil
}

type fakeCeremony struct {
	creation  *protocol.CredentialCreation
	assertion *protocol.CredentialAssertion
	session   *webauthn.SessionData

	credential    *webauthn.Credential
	beginErr      error
	validateErr   error
	createCredErr error

	registrationUser    webauthn.User
	registrationOptions int
	loginUser           webauthn.User
	discoverableCalled  bool
	validatedSession    webauthn.SessionData
	createdSession      webauthn.SessionData
}

func (f *fakeCeremony) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	f.registrationUser = user
	f.registrationOptions = len(opts)
	if f.beginErr != nil {
		return nil, nil, f.beginErr
	}
	return f.creation, f.session, nil
}

func (f *fakeCeremony) CreateCredential(_ webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	f.createdSession = session
	if f.createCredErr != nil {
		return nil, f.createCredErr
	}
	return f.credential, nil
}

func (f *fakeCeremony) BeginLogin(user webauthn.User, _ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	f.loginUser = user
	if f.beginErr != nil {
		return nil, nil, f.beginErr
	}
	return f.assertion, f.session, nil
}

func (f *fakeCeremony) BeginDiscoverableLogin(_ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	f.discoverableCalled = true
	if f.beginErr != nil {
		return nil, nil, f.beginErr
	}
	return f.assertion, f.session, nil
}

func (f *fakeCeremony) ValidateLogin(_ webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	f.validatedSession = session
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return f.credential, nil
}

type fakeParser struct {
	creation  *protocol.ParsedCredentialCreationData
	assertion *protocol.ParsedCredentialAssertionData
	err       error
}

func (f *fakeParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.creation, nil
}

func (f *fakeParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.assertion, nil
}

func testCodec(t *testing.T, now func() time.Time) *challenge.Codec {
	t.Helper()
	codec, err := challenge.NewCodec(bytes.Repeat([]byte{0xAB}, challenge.MinKeySize), 2*time.Minute, now)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

// newTestProvider wires a provider around fakes. The id generator yields
// acct-1, acct-2, ... and logf output is captured in the returned slice.
func newTestProvider(t *testing.T, store *fakeStore, ceremony *fakeCeremony, parser *fakeParser) (*Provider, *[]string) {
	t.Helper()
	var logged []string
	nextID := 0
	p := &Provider{
		config:   Config{RPDisplayName: "Keyfold", RPID: "localhost", RPOrigins: []string{"http://localhost:8080"}},
		ceremony: ceremony,
		parser:   parser,
		codec:    testCodec(t, nil),
		clock:    time.Now,
		idGenerator: func() (string, error) {
			nextID++
			return fmt.Sprintf("acct-%d", nextID), nil
		},
		logf: func(format string, args ...any) {
			logged = append(logged, fmt.Sprintf(format, args...))
		},
	}
	if store != nil {
		p.users = store
		p.accounts = store
		p.authenticators = store
	}
	return p, &logged
}
