// Package passkey orchestrates WebAuthn registration and authentication
// ceremonies for a host authentication framework.
//
// It decides whether an incoming request starts a registration or an
// authentication, issues a one-time challenge carried in a signed cookie, and
// verifies the client's cryptographic response against that challenge before
// handing the resulting user, account, and authenticator records back to the
// host. All ceremony continuity lives in the cookie; the provider holds no
// server-side ceremony session.
package passkey
