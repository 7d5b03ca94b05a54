package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by access tokens.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Admin bool   `json:"admin"`
	App   bool   `json:"app"`
	jwt.RegisteredClaims
}

// JWT validates HS256 access tokens signed with a shared secret.
type JWT struct {
	secret []byte
	issuer string
}

func NewJWT(secret, issuer string) *JWT {
	return &JWT{secret: []byte(secret), issuer: issuer}
}

func (j *JWT) Authenticate(_ context.Context, cred Credentials) (*Accountability, error) {
	if cred.AccessToken == "" {
		return nil, ErrNoCredentials
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(cred.AccessToken, &claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return &Accountability{
		User:  claims.Subject,
		Role:  claims.Role,
		Admin: claims.Admin,
		App:   claims.App,
	}, nil
}

// Issue signs a token for user. A zero ttl produces a token without expiry.
func (j *JWT) Issue(user, role string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  role,
		Admin: admin,
		App:   true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user,
			Issuer:   j.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}
