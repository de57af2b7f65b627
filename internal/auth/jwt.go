package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingPrincipalID is returned when a token parses and verifies fine but carries neither a
// `sub` nor an `id` claim to identify the principal, as distinct from a token that fails
// verification outright.
var ErrMissingPrincipalID = errors.New("token carries neither sub nor id claim")

// Principal is the authenticated identity extracted from a validated bearer token.
type Principal struct {
	UserID      string
	Email       string
	DisplayName string
	Role        string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// accessClaims models both the `sub` claim preferred by the JWT standard and the `id` claim the
// identity provider historically emits; both shapes must parse.
type accessClaims struct {
	jwt.RegisteredClaims
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
}

func (c *accessClaims) principalID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.ID
}

// NewAccessToken mints a locally-signed HS256 access token, used after an SSO exchange burns the
// one-time IdP credential.
func NewAccessToken(userID, email, displayName, role, secret string, ttl time.Duration, issuer string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret must not be empty")
	}

	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:       email,
		DisplayName: displayName,
		Role:        role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// ValidateAccessToken parses and validates a bearer token, accepting HS256, HS512, and RS256
// signing methods. rsaPublicKey may be nil when only HMAC secrets are in use. The principal
// identifier is read from `sub`, falling back to `id`, because the identity provider emits the
// latter while standard JWT practice expects the former.
func ValidateAccessToken(tokenStr, hmacSecret string, rsaPublicKey any, issuer string) (*Principal, error) {
	claims := &accessClaims{}

	var parserOpts []jwt.ParserOption
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return []byte(hmacSecret), nil
		case *jwt.SigningMethodRSA:
			if rsaPublicKey == nil {
				return nil, fmt.Errorf("RS256 token presented but no RSA public key is configured")
			}
			return rsaPublicKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	id := claims.principalID()
	if id == "" {
		return nil, ErrMissingPrincipalID
	}

	p := &Principal{
		UserID:      id,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
