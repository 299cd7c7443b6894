package passkey

import (
	"context"
	"errors"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
	"github.com/keyfold/keyfold/internal/storage"
)

var (
	errInvalidResponse = apperrors.New(apperrors.CodeCeremonyInvalidResponse, "Invalid response.")

	errMissingCookie = apperrors.New(apperrors.CodeCeremonyCookieMissing, "Missing challenge cookie.")

	errAuthenticatorNotFound = apperrors.New(apperrors.CodeAuthenticatorNotFound, "Authenticator not found.")

	errNotVerified = apperrors.New(apperrors.CodeCeremonyNotVerified, "Verification failed.")

	errVerifyEmailRequired = apperrors.New(apperrors.CodeCeremonyEmailRequired, "Email is required.")

	errAccountIDMissing = apperrors.New(apperrors.CodeCeremonyAccountIDMissing, "Missing provider account id in challenge cookie.")
)

// VerifyAuthentication validates a client assertion against the challenge
// cookie issued for this ceremony and returns the owning user and account.
//
// Storage is only written after the cryptographic verification succeeds, and
// the single write — the signature counter update — is allowed to fail
// without failing the ceremony: the regression is logged for operators while
// the user, whose assertion already verified, stays authenticated.
func (p *Provider) VerifyAuthentication(ctx context.Context, cookie string, response []byte) (*UserData, error) {
	if err := p.requireCeremonyStores(); err != nil {
		return nil, err
	}

	parsed, err := p.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCeremonyInvalidResponse, errInvalidResponse.Message, err)
	}

	payload, expires, err := p.codec.Decode(cookie)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCeremonyCookieMissing, errMissingCookie.Message, err)
	}

	authenticator, err := p.authenticators.GetAuthenticator(ctx, parsed.RawID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errAuthenticatorNotFound
		}
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "look up authenticator", err)
	}

	user := &ceremonyUser{
		id:          []byte(authenticator.ProviderAccountID),
		name:        authenticator.ProviderAccountID,
		displayName: authenticator.ProviderAccountID,
		credentials: []webauthn.Credential{toCeremonyCredential(authenticator)},
	}
	session := webauthn.SessionData{
		Challenge:        payload.Challenge,
		UserID:           []byte(authenticator.ProviderAccountID),
		Expires:          expires,
		UserVerification: protocol.VerificationRequired,
	}

	credential, err := p.ceremony.ValidateLogin(user, session, parsed)
	if err != nil {
		p.logf("passkey authentication rejected: %v", err)
		return nil, apperrors.Wrap(apperrors.CodeCeremonyNotVerified, errNotVerified.Message, err)
	}

	if credential.Authenticator.CloneWarning {
		p.logf("passkey clone warning for account %s: stored counter %d, response counter not increasing", authenticator.ProviderAccountID, authenticator.Counter)
	}
	if err := p.authenticators.UpdateAuthenticatorCounter(ctx, authenticator.CredentialID, credential.Authenticator.SignCount); err != nil {
		// Deliberately non-fatal: the assertion already verified, but the
		// anomaly must stay visible to operators.
		p.logf("update authenticator counter for account %s: %v", authenticator.ProviderAccountID, err)
	}

	owner, err := p.users.GetUserByAccount(ctx, storage.Provider, authenticator.ProviderAccountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// A verified credential without an owning user is corrupted
			// storage, not user input; authenticating an orphaned identity
			// is worse than failing the request.
			return nil, apperrors.WithMetadata(
				apperrors.CodeStorageInvariantViolated,
				"authenticator has no owning user",
				map[string]string{"providerAccountId": authenticator.ProviderAccountID},
			)
		}
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "look up user by account", err)
	}

	return &UserData{
		User: owner,
		Account: storage.Account{
			UserID:            owner.ID,
			Provider:          storage.Provider,
			ProviderAccountID: authenticator.ProviderAccountID,
		},
	}, nil
}

// VerifyRegistration validates a client attestation against the challenge
// cookie and synthesizes the user, account, and authenticator records the
// host's sign-up pipeline persists. Nothing is written here.
func (p *Provider) VerifyRegistration(ctx context.Context, cookie string, response []byte, email string) (*UserData, error) {
	if p.ceremony == nil || p.parser == nil || p.codec == nil {
		return nil, errCeremonyMissing
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errVerifyEmailRequired
	}

	parsed, err := p.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCeremonyInvalidResponse, errInvalidResponse.Message, err)
	}

	payload, expires, err := p.codec.Decode(cookie)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCeremonyCookieMissing, errMissingCookie.Message, err)
	}
	if payload.ProviderAccountID == "" {
		return nil, errAccountIDMissing
	}

	user := &ceremonyUser{
		id:          []byte(payload.ProviderAccountID),
		name:        email,
		displayName: email,
	}
	session := webauthn.SessionData{
		Challenge:        payload.Challenge,
		UserID:           []byte(payload.ProviderAccountID),
		Expires:          expires,
		UserVerification: protocol.VerificationRequired,
	}

	credential, err := p.ceremony.CreateCredential(user, session, parsed)
	if err != nil {
		p.logf("passkey registration rejected: %v", err)
		return nil, apperrors.Wrap(apperrors.CodeCeremonyNotVerified, errNotVerified.Message, err)
	}

	authenticator := fromCeremonyCredential(payload.ProviderAccountID, credential)
	return &UserData{
		User: storage.User{
			ID:    email,
			Email: email,
		},
		Account: storage.Account{
			UserID:            email,
			Provider:          storage.Provider,
			ProviderAccountID: payload.ProviderAccountID,
		},
		Authenticator: &authenticator,
	}, nil
}
