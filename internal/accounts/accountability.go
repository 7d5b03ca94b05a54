package accounts

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidCredentials is returned when a token or password does not check out.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoCredentials is returned when nothing usable was supplied.
	ErrNoCredentials = errors.New("no credentials")
	// ErrNotFound is returned when no account matches.
	ErrNotFound = errors.New("account not found")
)

// Accountability is the resolved identity behind a connection.
type Accountability struct {
	User      string `json:"user,omitempty"`
	Role      string `json:"role,omitempty"`
	Admin     bool   `json:"admin"`
	App       bool   `json:"app"`
	Anonymous bool   `json:"anonymous,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// Anonymous is the identity handed to connections on public endpoints.
func Anonymous(ip string) *Accountability {
	return &Accountability{Anonymous: true, IP: ip}
}

// Credentials is what a client presents, either at upgrade time or in a
// handshake message.
type Credentials struct {
	AccessToken string `json:"access_token,omitempty" cbor:"access_token,omitempty"`
	Email       string `json:"email,omitempty" cbor:"email,omitempty"`
	Password    string `json:"password,omitempty" cbor:"password,omitempty"`
}

func (c Credentials) Empty() bool {
	return c.AccessToken == "" && (c.Email == "" || c.Password == "")
}

// Authenticator turns credentials into an accountability.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credentials) (*Accountability, error)
}

// AuthenticatorFunc adapts a plain function.
type AuthenticatorFunc func(ctx context.Context, cred Credentials) (*Accountability, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, cred Credentials) (*Accountability, error) {
	return f(ctx, cred)
}

// Chain tries each authenticator in order and returns the first success.
// ErrNotFound and ErrInvalidCredentials fall through to the next one; any
// other error stops the chain.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, cred Credentials) (*Accountability, error) {
	if cred.Empty() {
		return nil, ErrNoCredentials
	}
	lastErr := ErrInvalidCredentials
	for _, a := range c {
		acc, err := a.Authenticate(ctx, cred)
		if err == nil {
			return acc, nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrNoCredentials) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
