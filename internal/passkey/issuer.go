package passkey

import (
	"context"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/keyfold/keyfold/internal/passkey/challenge"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

var errRegistrationEmailRequired = apperrors.New(apperrors.CodeCeremonyEmailRequired, "email is required to register")

// IssueRegistration produces credential creation options for email and the
// signed cookie binding this issuance to the later verification request.
//
// Credentials already registered for the email's passkey accounts are
// excluded so the same device cannot be registered twice. The provider
// account id rides in the cookie and becomes the credential's user handle if
// the ceremony completes; an email that already owns a passkey account keeps
// its id so new credentials join that account, otherwise a fresh id is
// generated.
func (p *Provider) IssueRegistration(ctx context.Context, email string) (*protocol.CredentialCreation, string, error) {
	if err := p.requireCeremonyStores(); err != nil {
		return nil, "", err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, "", errRegistrationEmailRequired
	}

	providerAccountID, existing, err := p.credentialsForEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if providerAccountID == "" {
		providerAccountID, err = p.idGenerator()
		if err != nil {
			return nil, "", apperrors.Wrap(apperrors.CodeUnknown, "generate provider account id", err)
		}
	}

	user := &ceremonyUser{
		id:          []byte(providerAccountID),
		name:        email,
		displayName: email,
	}
	options := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:        protocol.ResidentKeyRequirementPreferred,
			RequireResidentKey: protocol.ResidentKeyRequired(),
			UserVerification:   protocol.VerificationPreferred,
		}),
	}
	if len(existing) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(existing).CredentialDescriptors()))
	}

	creation, session, err := p.ceremony.BeginRegistration(user, options...)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeUnknown, "begin registration ceremony", err)
	}

	cookie, err := p.codec.Encode(challenge.Payload{
		Challenge:         session.Challenge,
		ProviderAccountID: providerAccountID,
	})
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeUnknown, "encode challenge cookie", err)
	}
	return creation, cookie, nil
}

// IssueAuthentication produces credential request options and the signed
// challenge cookie.
//
// When email resolves to stored credentials the allowed list is restricted
// to them, guiding the platform picker. An unknown or absent email falls
// back to a discoverable ceremony so resident credentials can identify the
// account themselves.
func (p *Provider) IssueAuthentication(ctx context.Context, email string) (*protocol.CredentialAssertion, string, error) {
	if err := p.requireCeremonyStores(); err != nil {
		return nil, "", err
	}
	email = strings.TrimSpace(email)

	var providerAccountID string
	var credentials []webauthn.Credential
	if email != "" {
		var err error
		providerAccountID, credentials, err = p.credentialsForEmail(ctx, email)
		if err != nil {
			return nil, "", err
		}
	}

	loginOptions := []webauthn.LoginOption{
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	}

	var assertion *protocol.CredentialAssertion
	var session *webauthn.SessionData
	var err error
	if len(credentials) > 0 {
		user := &ceremonyUser{
			id:          []byte(providerAccountID),
			name:        email,
			displayName: email,
			credentials: credentials,
		}
		assertion, session, err = p.ceremony.BeginLogin(user, loginOptions...)
	} else {
		assertion, session, err = p.ceremony.BeginDiscoverableLogin(loginOptions...)
	}
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeUnknown, "begin authentication ceremony", err)
	}

	cookie, err := p.codec.Encode(challenge.Payload{Challenge: session.Challenge})
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeUnknown, "encode challenge cookie", err)
	}
	return assertion, cookie, nil
}
