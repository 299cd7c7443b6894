package passkey

import (
	"strings"

	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

var (
	errEmailRequired = apperrors.New(apperrors.CodeActionEmailRequired, "email is required to register")

	errPasskeyEmailRequired = apperrors.New(apperrors.CodeActionPasskeyEmailRequired, "email is required to register a new passkey")

	errAuthenticateWhileLoggedIn = apperrors.New(apperrors.CodeActionInvalidCombination, "cannot authenticate while signed in")

	errAuthenticateUnknownEmail = apperrors.New(apperrors.CodeActionInvalidCombination, "no account found to authenticate")

	errRegisterExistingEmail = apperrors.New(apperrors.CodeActionInvalidCombination, "email is already registered")
)

// ResolveAction decides whether an options request starts a registration or
// an authentication ceremony.
//
// A logged-in session already proves identity, so the only permitted action
// is adding a new passkey for a supplied email. An anonymous caller
// disambiguates through the email's registration state; an explicit action is
// honored only when it agrees with that state, which stops clients from
// registering over an existing account or authenticating a missing one. The
// email used downstream is the session email when present, the query email
// otherwise.
func ResolveAction(explicit Action, loggedIn bool, sessionEmail, queryEmail string, emailExists bool) (Action, string, error) {
	sessionEmail = strings.TrimSpace(sessionEmail)
	queryEmail = strings.TrimSpace(queryEmail)

	switch explicit {
	case "", ActionAuthenticate, ActionRegister:
	default:
		return "", "", apperrors.WithMetadata(apperrors.CodeActionUnknown, "unsupported action", map[string]string{"action": string(explicit)})
	}

	email := sessionEmail
	if email == "" {
		email = queryEmail
	}

	if loggedIn {
		if explicit == ActionAuthenticate {
			return "", "", errAuthenticateWhileLoggedIn
		}
		if queryEmail == "" {
			return "", "", errPasskeyEmailRequired
		}
		return ActionRegister, email, nil
	}

	if queryEmail == "" {
		return "", "", errEmailRequired
	}

	switch explicit {
	case ActionAuthenticate:
		if !emailExists {
			return "", "", errAuthenticateUnknownEmail
		}
		return ActionAuthenticate, email, nil
	case ActionRegister:
		if emailExists {
			return "", "", errRegisterExistingEmail
		}
		return ActionRegister, email, nil
	}

	if emailExists {
		return ActionAuthenticate, email, nil
	}
	return ActionRegister, email, nil
}
