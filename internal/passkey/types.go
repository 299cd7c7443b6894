package passkey

import (
	"errors"
	"net/http"

	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
	"github.com/keyfold/keyfold/internal/storage"
)

// Action names a ceremony kind.
type Action string

const (
	// ActionAuthenticate starts or verifies an authentication ceremony.
	ActionAuthenticate Action = "authenticate"
	// ActionRegister starts or verifies a registration ceremony.
	ActionRegister Action = "register"
)

// DeviceType values follow the WebAuthn backup-eligibility split: credentials
// that can sync across devices are multi-device, hardware-bound ones are not.
const (
	DeviceTypeSingleDevice = "singleDevice"
	DeviceTypeMultiDevice  = "multiDevice"
)

// UserData is the successful outcome of a verification ceremony. For
// registrations the Authenticator carries the new credential the host must
// persist; for authentications it is nil and the stored credential already
// had its counter advanced.
type UserData struct {
	User          storage.User
	Account       storage.Account
	Authenticator *storage.Authenticator
}

// UserMessage returns the display-safe message for errors the caller can
// show directly to an end user, distinguishing user-correctable ceremony
// failures from configuration and data-integrity errors that must not look
// like bad input.
func UserMessage(err error) (string, bool) {
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		return "", false
	}
	if domainErr.Code.HTTPStatus() != http.StatusBadRequest {
		return "", false
	}
	return domainErr.Message, true
}
