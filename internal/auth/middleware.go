package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/httputil"
)

// PrincipalLocalsKey is the fiber.Ctx Locals key under which RequireAuth stores the validated
// *Principal.
const PrincipalLocalsKey = "principal"

// Validator parses and validates a bearer token into a Principal. Handlers depend on this
// interface instead of the package-level functions so tests can substitute a fake.
type Validator interface {
	Validate(tokenStr string) (*Principal, error)
}

// HMACValidator implements Validator for HS256/HS512/RS256 bearer tokens signed with a shared
// secret (RS256 support requires rsaPublicKey to be set).
type HMACValidator struct {
	Secret       string
	RSAPublicKey any
	Issuer       string
}

func (v *HMACValidator) Validate(tokenStr string) (*Principal, error) {
	p, err := ValidateAccessToken(tokenStr, v.Secret, v.RSAPublicKey, v.Issuer)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apierror.TokenRejected("token has expired")
		}
		if errors.Is(err, ErrMissingPrincipalID) {
			return nil, apierror.MalformedToken("%v", err)
		}
		return nil, apierror.TokenRejected("invalid token: %v", err)
	}
	return p, nil
}

// ExtractBearer pulls the raw token string out of an Authorization header, returning an
// apierror.TokenRejected if the header is missing or malformed.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", apierror.TokenRejected("missing authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", apierror.TokenRejected("invalid authorization format")
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// RequireAuth returns Fiber middleware that validates the bearer token via v, stores the resulting
// *Principal under PrincipalLocalsKey, and mirrors the principal id under
// httputil.PrincipalIDKey so RequestLogger can attach it to the access log line.
func RequireAuth(v Validator) fiber.Handler {
	return func(c fiber.Ctx) error {
		tokenStr, err := ExtractBearer(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return err
		}

		principal, err := v.Validate(tokenStr)
		if err != nil {
			return err
		}

		c.Locals(PrincipalLocalsKey, principal)
		c.Locals(httputil.PrincipalIDKey, principal.UserID)
		return c.Next()
	}
}

// FromContext retrieves the *Principal attached by RequireAuth. ok is false if RequireAuth did not
// run on this route.
func FromContext(c fiber.Ctx) (*Principal, bool) {
	p, ok := c.Locals(PrincipalLocalsKey).(*Principal)
	return p, ok
}
