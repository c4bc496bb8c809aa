// Package token supplies the bearer token used to authenticate the push
// connection.
package token

import (
	"context"
	"errors"
)

var (
	// ErrNoToken is returned when no token is configured.
	ErrNoToken = errors.New("token: no token available")
	// ErrNoFreshToken is returned by Refresh when the source cannot produce a
	// token other than the one that was rejected.
	ErrNoFreshToken = errors.New("token: no fresh token available")
)

// Source provides tokens. Refresh is called after the server rejects the
// current token and may block until a different token exists.
type Source interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Static is a fixed token. It cannot be refreshed.
type Static string

// Token returns the token.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Refresh always fails.
func (s Static) Refresh(context.Context) (string, error) {
	return "", ErrNoFreshToken
}
