package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthenticate(t *testing.T) {
	j := NewJWT("s3cret", "logfeed")
	tok, err := j.Issue("user-1", "administrator", true, time.Hour)
	require.NoError(t, err)

	acc, err := j.Authenticate(context.Background(), Credentials{AccessToken: tok})
	require.NoError(t, err)
	assert.Equal(t, "user-1", acc.User)
	assert.Equal(t, "administrator", acc.Role)
	assert.True(t, acc.Admin)
	assert.False(t, acc.Anonymous)
}

func TestJWTRejectsBadTokens(t *testing.T) {
	j := NewJWT("s3cret", "logfeed")
	ctx := context.Background()

	other, err := NewJWT("other", "logfeed").Issue("u", "", true, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := NewJWT("s3cret", "someone-else").Issue("u", "", true, time.Hour)
	require.NoError(t, err)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u",
			Issuer:    "logfeed",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Admin: true}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"wrong secret": other,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"alg none":     none,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := j.Authenticate(ctx, Credentials{AccessToken: tok})
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}

	_, err = j.Authenticate(ctx, Credentials{Email: "a@b.c", Password: "x"})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestChainFallsThrough(t *testing.T) {
	calls := 0
	miss := AuthenticatorFunc(func(context.Context, Credentials) (*Accountability, error) {
		calls++
		return nil, ErrNotFound
	})
	hit := AuthenticatorFunc(func(_ context.Context, c Credentials) (*Accountability, error) {
		calls++
		return &Accountability{User: c.Email}, nil
	})

	acc, err := Chain{miss, hit}.Authenticate(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", acc.User)
	assert.Equal(t, 2, calls)
}

func TestChainStopsOnHardError(t *testing.T) {
	down := errors.New("db down")
	fail := AuthenticatorFunc(func(context.Context, Credentials) (*Accountability, error) { return nil, down })
	never := AuthenticatorFunc(func(context.Context, Credentials) (*Accountability, error) {
		t.Fatal("should not be reached")
		return nil, nil
	})

	_, err := Chain{fail, never}.Authenticate(context.Background(), Credentials{AccessToken: "t"})
	assert.ErrorIs(t, err, down)
}

func TestChainEmptyCredentials(t *testing.T) {
	_, err := Chain{}.Authenticate(context.Background(), Credentials{Email: "only-email"})
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = Chain{}.Authenticate(context.Background(), Credentials{AccessToken: "t"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc"))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("abc"))
	assert.Empty(t, BearerToken(""))
}

func TestAnonymous(t *testing.T) {
	acc := Anonymous("10.0.0.1")
	require.NotNil(t, acc)
	assert.True(t, acc.Anonymous)
	assert.False(t, acc.Admin)
	assert.Equal(t, "10.0.0.1", acc.IP)
}
