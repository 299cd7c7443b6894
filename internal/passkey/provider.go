package passkey

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/keyfold/keyfold/internal/passkey/challenge"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
	"github.com/keyfold/keyfold/internal/platform/id"
	"github.com/keyfold/keyfold/internal/storage"
)

type ceremonyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type ceremonyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultCeremonyParser struct{}

func (defaultCeremonyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultCeremonyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Stores bundles the adapter capabilities the provider can use. Hosts may
// wire any subset; operations whose required capability is missing fail with
// a configuration error instead of a per-request soft error.
type Stores struct {
	Users          storage.UserStore
	Accounts       storage.AccountStore
	Authenticators storage.AuthenticatorStore
}

// Provider orchestrates passkey ceremonies for one relying party.
type Provider struct {
	config         Config
	ceremony       ceremonyProvider
	parser         ceremonyParser
	codec          *challenge.Codec
	users          storage.UserStore
	accounts       storage.AccountStore
	authenticators storage.AuthenticatorStore
	clock          func() time.Time
	idGenerator    func() (string, error)
	logf           func(format string, args ...any)
}

// New creates a provider for the configured relying party.
func New(cfg Config, codec *challenge.Codec, stores Stores) (*Provider, error) {
	if codec == nil {
		return nil, apperrors.New(apperrors.CodeConfigMissingCodec, "challenge cookie codec is required")
	}
	handle, err := cfg.WebAuthn()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigInvalid, "invalid relying party configuration", err)
	}
	return &Provider{
		config:         cfg,
		ceremony:       handle,
		parser:         defaultCeremonyParser{},
		codec:          codec,
		users:          stores.Users,
		accounts:       stores.Accounts,
		authenticators: stores.Authenticators,
		clock:          time.Now,
		idGenerator:    id.NewID,
		logf:           log.Printf,
	}, nil
}

var (
	errUserStoreMissing          = apperrors.New(apperrors.CodeConfigMissingStore, "user store is not configured")
	errAccountStoreMissing       = apperrors.New(apperrors.CodeConfigMissingStore, "account store is not configured")
	errAuthenticatorStoreMissing = apperrors.New(apperrors.CodeConfigMissingStore, "authenticator store is not configured")
	errCeremonyMissing           = apperrors.New(apperrors.CodeConfigMissingCeremony, "ceremony library is not configured")
)

// requireCeremonyStores asserts the capabilities every ceremony operation
// needs. Absence is a deployment bug, raised immediately rather than folded
// into a per-request soft error.
func (p *Provider) requireCeremonyStores() error {
	if p.ceremony == nil || p.parser == nil || p.codec == nil {
		return errCeremonyMissing
	}
	if p.users == nil {
		return errUserStoreMissing
	}
	if p.accounts == nil {
		return errAccountStoreMissing
	}
	if p.authenticators == nil {
		return errAuthenticatorStoreMissing
	}
	return nil
}

// ceremonyUser adapts identity records to the ceremony library's user model.
// Its id is the provider account id, which becomes the credential's user
// handle on the authenticator.
type ceremonyUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.id
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.displayName
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// toCeremonyCredential converts a stored authenticator into the ceremony
// library's credential form.
func toCeremonyCredential(a storage.Authenticator) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(a.Transports))
	for _, transport := range a.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(transport))
	}
	return webauthn.Credential{
		ID:        a.CredentialID,
		PublicKey: a.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: a.DeviceType == DeviceTypeMultiDevice,
			BackupState:    a.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: a.Counter,
		},
	}
}

// fromCeremonyCredential converts a verified ceremony credential into the
// stored authenticator form.
func fromCeremonyCredential(providerAccountID string, c *webauthn.Credential) storage.Authenticator {
	transports := make([]string, 0, len(c.Transport))
	for _, transport := range c.Transport {
		transports = append(transports, string(transport))
	}
	deviceType := DeviceTypeSingleDevice
	if c.Flags.BackupEligible {
		deviceType = DeviceTypeMultiDevice
	}
	return storage.Authenticator{
		CredentialID:      c.ID,
		ProviderAccountID: providerAccountID,
		Counter:           c.Authenticator.SignCount,
		PublicKey:         c.PublicKey,
		DeviceType:        deviceType,
		BackedUp:          c.Flags.BackupState,
		Transports:        transports,
	}
}

// credentialsForEmail collects the ceremony credentials already bound to the
// passkey accounts of the user owning email. An unknown email is not an
// error; it simply yields no credentials.
func (p *Provider) credentialsForEmail(ctx context.Context, email string) (string, []webauthn.Credential, error) {
	user, err := p.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, nil
		}
		return "", nil, apperrors.Wrap(apperrors.CodeUnknown, "look up user by email", err)
	}

	accounts, err := p.accounts.ListLinkedAccounts(ctx, user.ID)
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.CodeUnknown, "list linked accounts", err)
	}

	var providerAccountID string
	var credentials []webauthn.Credential
	for _, account := range accounts {
		if account.Provider != storage.Provider {
			continue
		}
		if providerAccountID == "" {
			providerAccountID = account.ProviderAccountID
		}
		authenticators, err := p.authenticators.ListAuthenticatorsByAccountID(ctx, account.ProviderAccountID)
		if err != nil {
			return "", nil, apperrors.Wrap(apperrors.CodeUnknown, "list authenticators", err)
		}
		for _, authenticator := range authenticators {
			credentials = append(credentials, toCeremonyCredential(authenticator))
		}
	}
	return providerAccountID, credentials, nil
}
