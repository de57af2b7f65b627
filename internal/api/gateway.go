package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/auth"
	"github.com/aio-zber/tms-server/internal/gateway"
)

// GatewayHandler serves the real-time WebSocket upgrade endpoint.
type GatewayHandler struct {
	fanOut    *gateway.FanOut
	validator auth.Validator
}

// NewGatewayHandler builds a GatewayHandler.
func NewGatewayHandler(fanOut *gateway.FanOut, validator auth.Validator) *GatewayHandler {
	return &GatewayHandler{fanOut: fanOut, validator: validator}
}

// Upgrade handles GET /api/v1/gateway. The access token travels as a query parameter because
// browser WebSocket clients cannot set an Authorization header on the handshake request; the
// connection is authenticated before upgrading, so FanOut never has to trust an unauthenticated
// socket.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := c.Query("token")
	if token == "" {
		return apierror.TokenRejected("missing token query parameter")
	}
	principal, err := h.validator.Validate(token)
	if err != nil {
		return err
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.fanOut.ServeWebSocket(conn.Conn, principal.UserID)
	})(c)
}
