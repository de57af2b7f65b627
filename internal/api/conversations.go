package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/auth"
	"github.com/aio-zber/tms-server/internal/conversation"
	"github.com/aio-zber/tms-server/internal/httputil"
)

// createConversationRequest models both DM and GROUP creation. type is "DM" or "GROUP";
// for a DM, memberIDs must carry exactly one counterpart id.
type createConversationRequest struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// ConversationHandler serves the ConversationStore HTTP surface.
type ConversationHandler struct {
	store *conversation.Store
	log   zerolog.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(store *conversation.Store, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, log: logger}
}

// List handles GET /api/v1/conversations.
func (h *ConversationHandler) List(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	convs, err := h.store.List(c.Context(), principal.UserID)
	if err != nil {
		return err
	}
	return httputil.Success(c, convs)
}

// Search handles GET /api/v1/conversations/search?q=.
func (h *ConversationHandler) Search(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	query := c.Query("q")
	if query == "" {
		return httputil.Success(c, []conversation.SearchResult{})
	}

	results, err := h.store.Search(c.Context(), principal.UserID, query)
	if err != nil {
		return err
	}
	return httputil.Success(c, results)
}

// Create handles POST /api/v1/conversations: creates (or returns the existing) DM, or a new
// GROUP.
func (h *ConversationHandler) Create(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	var body createConversationRequest
	if err := c.Bind().Body(&body); err != nil {
		return apierror.ValidationError(nil, "invalid request body")
	}

	switch body.Type {
	case conversation.TypeDM:
		if len(body.MemberIDs) != 1 {
			return apierror.ValidationError(map[string]string{"member_ids": "a DM requires exactly one counterpart"}, "invalid member_ids")
		}
		conv, err := h.store.CreateDM(c.Context(), principal.UserID, body.MemberIDs[0])
		if err != nil {
			return err
		}
		return httputil.SuccessStatus(c, fiber.StatusCreated, conv)
	case conversation.TypeGroup:
		conv, err := h.store.CreateGroup(c.Context(), principal.UserID, body.Name, body.MemberIDs)
		if err != nil {
			return err
		}
		return httputil.SuccessStatus(c, fiber.StatusCreated, conv)
	default:
		return apierror.ValidationError(map[string]string{"type": "must be DM or GROUP"}, "invalid conversation type")
	}
}
