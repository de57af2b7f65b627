package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/auth"
	"github.com/aio-zber/tms-server/internal/blob"
	"github.com/aio-zber/tms-server/internal/httputil"
	"github.com/aio-zber/tms-server/internal/message"
	"github.com/aio-zber/tms-server/internal/status"
)

// sendMessageRequest models POST /api/v1/messages.
type sendMessageRequest struct {
	ConversationID string         `json:"conversation_id"`
	Content        string         `json:"content"`
	Type           string         `json:"type"`
	Metadata       map[string]any `json:"metadata"`
	ReplyToID      *string        `json:"reply_to_id"`
}

// uploadRequest models POST /api/v1/messages/upload. The core never proxies message bytes;
// the client PUTs the file straight to the object store against the returned URL, then references
// ObjectKey as Metadata["ossKey"] on the subsequent Send.
type uploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// markRequest models the bulk mark-delivered/mark-read request bodies.
type markRequest struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

// reactRequest models POST /api/v1/messages/{id}/reactions.
type reactRequest struct {
	Emoji string `json:"emoji"`
}

// editRequest models PATCH /api/v1/messages/{id}.
type editRequest struct {
	Content string `json:"content"`
}

// MessageHandler serves MessageIngest, StatusMachine, and BlobBroker over HTTP.
type MessageHandler struct {
	ingest *message.Ingest
	status *status.Machine
	blob   *blob.Broker
	log    zerolog.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(ingest *message.Ingest, statusMachine *status.Machine, broker *blob.Broker, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{ingest: ingest, status: statusMachine, blob: broker, log: logger}
}

// List handles GET /api/v1/messages/conversations/{id}/messages?cursor=&limit=.
func (h *MessageHandler) List(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	conversationID := c.Params("id")
	if conversationID == "" {
		return apierror.ValidationError(nil, "conversation id is required")
	}

	var before *string
	if cursor := c.Query("cursor"); cursor != "" {
		before = &cursor
	}
	limit := c.QueryInt("limit", message.DefaultLimit)

	msgs, err := h.ingest.List(c.Context(), conversationID, principal.UserID, before, limit)
	if err != nil {
		return err
	}
	return httputil.Success(c, msgs)
}

// Send handles POST /api/v1/messages.
func (h *MessageHandler) Send(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	var body sendMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return apierror.ValidationError(nil, "invalid request body")
	}
	if body.ConversationID == "" {
		return apierror.ValidationError(map[string]string{"conversation_id": "required"}, "conversation_id is required")
	}

	msg, err := h.ingest.Send(c.Context(), message.SendParams{
		ConversationID: body.ConversationID,
		SenderID:       principal.UserID,
		Content:        body.Content,
		Type:           body.Type,
		Metadata:       body.Metadata,
		ReplyToID:      body.ReplyToID,
	})
	if err != nil {
		return err
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, msg)
}

// Upload handles POST /api/v1/messages/upload: issues a pre-signed upload URL and registers a
// PendingAttachment. It does not accept or forward file bytes.
func (h *MessageHandler) Upload(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	var body uploadRequest
	if err := c.Bind().Body(&body); err != nil || body.Filename == "" || body.ContentType == "" {
		return apierror.ValidationError(map[string]string{"filename": "required", "content_type": "required"}, "invalid upload request")
	}

	grant, err := h.blob.IssueUploadURL(c.Context(), principal.UserID, body.Filename, body.ContentType, body.SizeBytes)
	if err != nil {
		return err
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, grant)
}

// MarkDelivered handles POST /api/v1/messages/mark-delivered.
func (h *MessageHandler) MarkDelivered(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	var body markRequest
	if err := c.Bind().Body(&body); err != nil || body.ConversationID == "" {
		return apierror.ValidationError(map[string]string{"conversation_id": "required"}, "invalid request body")
	}

	result, err := h.status.MarkDelivered(c.Context(), body.ConversationID, principal.UserID, body.MessageIDs)
	if err != nil {
		return err
	}
	return httputil.Success(c, result)
}

// MarkRead handles POST /api/v1/messages/mark-read.
func (h *MessageHandler) MarkRead(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	var body markRequest
	if err := c.Bind().Body(&body); err != nil || body.ConversationID == "" {
		return apierror.ValidationError(map[string]string{"conversation_id": "required"}, "invalid request body")
	}

	result, err := h.status.MarkRead(c.Context(), body.ConversationID, principal.UserID, body.MessageIDs)
	if err != nil {
		return err
	}
	return httputil.Success(c, result)
}

// React handles POST /api/v1/messages/{id}/reactions.
func (h *MessageHandler) React(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	messageID := c.Params("id")
	var body reactRequest
	if err := c.Bind().Body(&body); err != nil || body.Emoji == "" {
		return apierror.ValidationError(map[string]string{"emoji": "required"}, "invalid request body")
	}

	delta, err := h.ingest.React(c.Context(), messageID, principal.UserID, body.Emoji)
	if err != nil {
		return err
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, delta)
}

// Unreact handles DELETE /api/v1/messages/{id}/reactions/{emoji}.
func (h *MessageHandler) Unreact(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	messageID := c.Params("id")
	emoji := c.Params("emoji")
	if emoji == "" {
		return apierror.ValidationError(map[string]string{"emoji": "required"}, "emoji is required")
	}

	delta, err := h.ingest.Unreact(c.Context(), messageID, principal.UserID, emoji)
	if err != nil {
		return err
	}
	return httputil.Success(c, delta)
}

// Edit handles PATCH /api/v1/messages/{id}.
func (h *MessageHandler) Edit(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	messageID := c.Params("id")
	var body editRequest
	if err := c.Bind().Body(&body); err != nil {
		return apierror.ValidationError(nil, "invalid request body")
	}

	msg, err := h.ingest.Edit(c.Context(), messageID, principal.UserID, body.Content)
	if err != nil {
		return err
	}
	return httputil.Success(c, msg)
}

// Delete handles DELETE /api/v1/messages/{id}?scope=self|everyone.
func (h *MessageHandler) Delete(c fiber.Ctx) error {
	principal, ok := auth.FromContext(c)
	if !ok {
		return apierror.TokenRejected("no authenticated principal")
	}

	messageID := c.Params("id")
	scope := c.Query("scope", "self")

	if err := h.ingest.Delete(c.Context(), messageID, principal.UserID, scope); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
