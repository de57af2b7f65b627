package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/auth"
	"github.com/aio-zber/tms-server/internal/httputil"
	"github.com/aio-zber/tms-server/internal/identity"
)

// loginRequest carries the IdP session token presented for exchange.
type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

// AuthHandler implements the delegated-authentication flow: /auth/login exchanges a
// single-use IdP token for a locally-minted JWT; /auth/validate decodes a token without upserting
// a user record.
type AuthHandler struct {
	validator auth.Validator
	rdb       *redis.Client
	reflector *identity.Reflector
	jwtSecret string
	issuer    string
	tokenTTL  time.Duration
	log       zerolog.Logger
}

// NewAuthHandler builds an AuthHandler. rdb may be nil, which disables single-use enforcement
// (a token can then be presented more than once) rather than failing every login outright.
func NewAuthHandler(validator auth.Validator, rdb *redis.Client, reflector *identity.Reflector, jwtSecret, issuer string, tokenTTL time.Duration, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{validator: validator, rdb: rdb, reflector: reflector, jwtSecret: jwtSecret, issuer: issuer, tokenTTL: tokenTTL, log: logger}
}

// Login handles POST /api/v1/auth/login. A valid, not-yet-consumed IdP token is exchanged for a
// local access token; the local user record is synced or synthesized via UserReflector so the
// rest of the API never has to special-case a never-before-seen principal.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil || body.Token == "" {
		return apierror.ValidationError(map[string]string{"token": "required"}, "request body must carry a token")
	}

	principal, err := h.validator.Validate(body.Token)
	if err != nil {
		return err
	}

	if h.rdb != nil {
		remaining := time.Until(principal.ExpiresAt)
		if err := auth.ConsumeSSOToken(c.Context(), h.rdb, body.Token, remaining); err != nil {
			return apierror.TokenRejected("token has already been exchanged")
		}
	}

	user, err := h.reflector.EnsureFresh(c.Context(), principal.UserID, &identity.PrincipalHint{
		UserID:      principal.UserID,
		Email:       principal.Email,
		DisplayName: principal.DisplayName,
		Role:        principal.Role,
	})
	if err != nil {
		return apierror.UpstreamUnavailable("could not resolve user profile: %v", err)
	}

	token, err := auth.NewAccessToken(user.TMSUserID, user.Email, user.DisplayName, user.Role, h.jwtSecret, h.tokenTTL, h.issuer)
	if err != nil {
		return apierror.ServerError(err, "mint access token")
	}

	return httputil.Success(c, loginResponse{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(h.tokenTTL).UTC().Format(time.RFC3339),
	})
}

// Validate handles POST /api/v1/auth/validate: a lightweight decode with no user upsert, used by
// callers that only need to confirm a token is currently valid.
func (h *AuthHandler) Validate(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil || body.Token == "" {
		return apierror.ValidationError(map[string]string{"token": "required"}, "request body must carry a token")
	}

	principal, err := h.validator.Validate(body.Token)
	if err != nil {
		return err
	}

	return httputil.Success(c, fiber.Map{
		"user_id":    principal.UserID,
		"email":      principal.Email,
		"expires_at": principal.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
