package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingToken   = errors.New("missing authorization header")
	ErrMalformedToken = errors.New("invalid authorization header format")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrNotConfigured  = errors.New("authentication not configured")
)

// Identity is the caller a request acts for. Briefing jobs are owned by UserID.
type Identity struct {
	UserID   string
	Email    string
	Name     string
	Locale   string
	Timezone string
	Source   string
}

// TokenVerifier validates a bearer token
type TokenVerifier interface {
	Name() string
	Validate(tokenString string) (*Identity, error)
}

// Authenticator tries each verifier in order until one accepts the token
type Authenticator struct {
	verifiers []TokenVerifier
}

// NewAuthenticator skips nil verifiers.
func NewAuthenticator(verifiers ...TokenVerifier) *Authenticator {
	a := &Authenticator{}
	for _, v := range verifiers {
		if v != nil {
			a.verifiers = append(a.verifiers, v)
		}
	}
	return a
}

// Configured reports whether at least one verifier is available.
func (a *Authenticator) Configured() bool {
	return len(a.verifiers) > 0
}

// Methods names the active verifiers in order.
func (a *Authenticator) Methods() []string {
	names := make([]string, 0, len(a.verifiers))
	for _, v := range a.verifiers {
		names = append(names, v.Name())
	}
	return names
}

// AuthenticateHeader validates an Authorization header value.
func (a *Authenticator) AuthenticateHeader(header string) (*Identity, error) {
	token, err := BearerToken(header)
	if err != nil {
		return nil, err
	}
	return a.Authenticate(token)
}

// Authenticate validates a raw token.
func (a *Authenticator) Authenticate(token string) (*Identity, error) {
	if !a.Configured() {
		return nil, ErrNotConfigured
	}
	var errs []error
	for _, v := range a.verifiers {
		id, err := v.Validate(token)
		if err == nil {
			return id, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", v.Name(), err))
	}
	return nil, fmt.Errorf("%w: %w", ErrInvalidToken, errors.Join(errs...))
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMalformedToken
	}
	return strings.TrimSpace(parts[1]), nil
}
