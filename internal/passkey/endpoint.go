package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
	"github.com/keyfold/keyfold/internal/storage"
)

// ChallengeCookieName is the cookie slot the host framework uses to carry the
// signed ceremony state between the options and verification requests.
const ChallengeCookieName = "keyfold.challenge"

// Cookie is a transport-agnostic cookie instruction for the host framework.
// A negative MaxAge clears the slot.
type Cookie struct {
	Name   string
	Value  string
	MaxAge int
}

// Response is the framework-level outcome of an options or verification
// request. Body is either the success payload or a display-safe string for
// user-correctable failures.
type Response struct {
	Status  int
	Body    any
	Cookies []Cookie
}

// OptionsRequest carries the inputs of a ceremony-options request plus the
// ambient session state the host already resolved.
type OptionsRequest struct {
	Action       Action
	Email        string
	LoggedIn     bool
	SessionEmail string
}

// OptionsBody is the success payload of an options request.
type OptionsBody struct {
	Options any    `json:"options"`
	Action  Action `json:"action"`
}

// Options resolves the requested ceremony and issues its options and signed
// challenge cookie.
func (p *Provider) Options(ctx context.Context, req OptionsRequest) (Response, error) {
	if err := p.requireCeremonyStores(); err != nil {
		return Response{}, err
	}

	email := strings.TrimSpace(req.SessionEmail)
	if email == "" {
		email = strings.TrimSpace(req.Email)
	}
	emailExists := false
	if email != "" {
		if _, err := p.users.GetUserByEmail(ctx, email); err == nil {
			emailExists = true
		} else if !errors.Is(err, storage.ErrNotFound) {
			return Response{}, apperrors.Wrap(apperrors.CodeUnknown, "look up user by email", err)
		}
	}

	action, email, err := ResolveAction(req.Action, req.LoggedIn, req.SessionEmail, req.Email, emailExists)
	if err != nil {
		return p.respond(err)
	}

	var options any
	var cookie string
	switch action {
	case ActionRegister:
		options, cookie, err = p.IssueRegistration(ctx, email)
	case ActionAuthenticate:
		options, cookie, err = p.IssueAuthentication(ctx, email)
	}
	if err != nil {
		return p.respond(err)
	}

	return Response{
		Status: http.StatusOK,
		Body:   OptionsBody{Options: options, Action: action},
		Cookies: []Cookie{{
			Name:   ChallengeCookieName,
			Value:  cookie,
			MaxAge: int(p.codec.TTL().Seconds()),
		}},
	}, nil
}

// VerifyRequest carries a ceremony verification request: the challenge
// cookie from the matching options request and the browser ceremony's JSON
// response.
type VerifyRequest struct {
	Action          Action
	Email           string
	ChallengeCookie string
	Response        json.RawMessage
}

// Verify validates a ceremony response. Registrations additionally persist
// the synthesized user, account, and authenticator through the adapter — the
// sign-up step the host framework would otherwise run. The challenge cookie
// slot is cleared on success so a replayed response no longer carries a
// decodable challenge.
func (p *Provider) Verify(ctx context.Context, req VerifyRequest) (Response, error) {
	var data *UserData
	var err error
	switch req.Action {
	case ActionRegister:
		data, err = p.VerifyRegistration(ctx, req.ChallengeCookie, req.Response, req.Email)
		if err == nil {
			err = p.persistRegistration(ctx, data)
		}
	case ActionAuthenticate:
		data, err = p.VerifyAuthentication(ctx, req.ChallengeCookie, req.Response)
	default:
		err = apperrors.WithMetadata(apperrors.CodeActionUnknown, "unsupported action", map[string]string{"action": string(req.Action)})
	}
	if err != nil {
		return p.respond(err)
	}

	return Response{
		Status:  http.StatusOK,
		Body:    data,
		Cookies: []Cookie{{Name: ChallengeCookieName, MaxAge: -1}},
	}, nil
}

// persistRegistration writes the verified registration triple.
func (p *Provider) persistRegistration(ctx context.Context, data *UserData) error {
	if err := p.requireCeremonyStores(); err != nil {
		return err
	}
	if err := p.users.CreateUser(ctx, data.User); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "persist user", err)
	}
	if err := p.accounts.CreateAccount(ctx, data.Account); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "persist account", err)
	}
	if err := p.authenticators.CreateAuthenticator(ctx, *data.Authenticator); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "persist authenticator", err)
	}
	return nil
}

// respond folds user-correctable errors into a displayable response and
// propagates configuration and data-integrity errors to the host unchanged.
func (p *Provider) respond(err error) (Response, error) {
	message, ok := UserMessage(err)
	if !ok {
		return Response{}, err
	}
	var domainErr *apperrors.Error
	status := http.StatusBadRequest
	if errors.As(err, &domainErr) {
		status = domainErr.Code.HTTPStatus()
	}
	return Response{Status: status, Body: message}, nil
}
