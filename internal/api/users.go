package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/auth"
	"github.com/aio-zber/tms-server/internal/httputil"
	"github.com/aio-zber/tms-server/internal/identity"
)

// UserHandler serves reflected-profile reads.
type UserHandler struct {
	reflector *identity.Reflector
	log       zerolog.Logger
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(reflector *identity.Reflector, logger zerolog.Logger) *UserHandler {
	return &UserHandler{reflector: reflector, log: logger}
}

// Me handles GET /api/v1/users/me: the caller's own reflected profile.
func (h *UserHandler) Me(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	user, err := h.reflector.GetLocalUser(c.Context(), principal.UserID)
	if err != nil {
		return apierror.NotFound("user not found")
	}
	return httputil.Success(c, user)
}

// Get handles GET /api/v1/users/{id}: any user's reflected profile.
func (h *UserHandler) Get(c fiber.Ctx) error {
	userID := c.Params("id")
	if userID == "" {
		return apierror.ValidationError(nil, "user id is required")
	}

	user, err := h.reflector.GetLocalUser(c.Context(), userID)
	if err != nil {
		return apierror.NotFound("user not found")
	}
	return httputil.Success(c, user)
}

// Search handles GET /api/v1/users?q=: delegates to the IdP's own search endpoint.
func (h *UserHandler) Search(c fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return httputil.Success(c, []identity.User{})
	}

	users, err := h.reflector.SearchUsers(c.Context(), query)
	if err != nil {
		return apierror.UpstreamUnavailable("user search unavailable: %v", err)
	}
	return httputil.Success(c, users)
}
