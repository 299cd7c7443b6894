// Package errors provides structured error handling for the passkey provider.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Action resolution errors
	CodeActionEmailRequired        Code = "ACTION_EMAIL_REQUIRED"
	CodeActionPasskeyEmailRequired Code = "ACTION_PASSKEY_EMAIL_REQUIRED"
	CodeActionInvalidCombination   Code = "ACTION_INVALID_COMBINATION"
	CodeActionUnknown              Code = "ACTION_UNKNOWN"

	// Ceremony errors
	CodeCeremonyInvalidResponse  Code = "CEREMONY_INVALID_RESPONSE"
	CodeCeremonyCookieMissing    Code = "CEREMONY_COOKIE_MISSING"
	CodeCeremonyNotVerified      Code = "CEREMONY_NOT_VERIFIED"
	CodeCeremonyEmailRequired    Code = "CEREMONY_EMAIL_REQUIRED"
	CodeCeremonyAccountIDMissing Code = "CEREMONY_ACCOUNT_ID_MISSING"

	// Authenticator errors
	CodeAuthenticatorNotFound Code = "AUTHENTICATOR_NOT_FOUND"
	CodeCounterRegression     Code = "COUNTER_REGRESSION"

	// Configuration errors
	CodeConfigMissingStore    Code = "CONFIG_MISSING_STORE"
	CodeConfigMissingCeremony Code = "CONFIG_MISSING_CEREMONY"
	CodeConfigMissingCodec    Code = "CONFIG_MISSING_CODEC"
	CodeConfigInvalid         Code = "CONFIG_INVALID"

	// Storage errors
	CodeNotFound                 Code = "NOT_FOUND"
	CodeStorageInvariantViolated Code = "STORAGE_INVARIANT_VIOLATED"
)

// HTTPStatus maps domain codes to HTTP status codes for the endpoint surface.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - user input or ceremony state the caller can correct
	case CodeActionEmailRequired,
		CodeActionPasskeyEmailRequired,
		CodeActionInvalidCombination,
		CodeActionUnknown,
		CodeCeremonyInvalidResponse,
		CodeCeremonyCookieMissing,
		CodeCeremonyNotVerified,
		CodeCeremonyEmailRequired,
		CodeCeremonyAccountIDMissing,
		CodeAuthenticatorNotFound,
		CodeCounterRegression:
		return http.StatusBadRequest

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
