package main

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/api"
	"github.com/aio-zber/tms-server/internal/auth"
	"github.com/aio-zber/tms-server/internal/blob"
	"github.com/aio-zber/tms-server/internal/config"
	"github.com/aio-zber/tms-server/internal/conversation"
	"github.com/aio-zber/tms-server/internal/gateway"
	"github.com/aio-zber/tms-server/internal/identity"
	"github.com/aio-zber/tms-server/internal/message"
	"github.com/aio-zber/tms-server/internal/ratelimit"
	"github.com/aio-zber/tms-server/internal/status"
)

// routeDeps groups the shared dependencies registerRoutes wires into handlers, mirroring the
// teacher's *server receiver but held as a plain struct since this package has no other methods.
type routeDeps struct {
	cfg           *config.Config
	db            *pgxpool.Pool
	rdb           *redis.Client
	validator     auth.Validator
	reflector     *identity.Reflector
	convStore     *conversation.Store
	messageIngest *message.Ingest
	statusMachine *status.Machine
	blobBroker    *blob.Broker
	fanOut        *gateway.FanOut
	rateLimiter   ratelimit.Limiter
	logger        zerolog.Logger
}

func registerRoutes(app *fiber.App, d routeDeps) {
	var pinger api.RedisPinger
	if d.rdb != nil {
		pinger = redisPinger{client: d.rdb}
	}
	health := api.NewHealthHandler(d.db, pinger)
	app.Get("/health", health.Live)
	app.Get("/health/ready", health.Ready)

	if d.cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	requireAuth := auth.RequireAuth(d.validator)

	authHandler := api.NewAuthHandler(d.validator, d.rdb, d.reflector, d.cfg.JWTSecret, tokenIssuer, d.cfg.JWTExpiration(), d.logger)
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/validate", authHandler.Validate)

	v1 := app.Group("/api/v1", requireAuth)

	userHandler := api.NewUserHandler(d.reflector, d.logger)
	v1.Get("/users/me", userHandler.Me)
	v1.Get("/users/:id", userHandler.Get)
	v1.Get("/users", userHandler.Search)

	convHandler := api.NewConversationHandler(d.convStore, d.logger)
	v1.Get("/conversations", convHandler.List)
	v1.Get("/conversations/search", convHandler.Search)
	v1.Post("/conversations", convHandler.Create)

	msgHandler := api.NewMessageHandler(d.messageIngest, d.statusMachine, d.blobBroker, d.logger)
	v1.Get("/messages/conversations/:id/messages", msgHandler.List)
	v1.Post("/messages", withClassLimit(d.rateLimiter, ratelimit.ClassSendMessage), msgHandler.Send)
	v1.Post("/messages/upload", withClassLimit(d.rateLimiter, ratelimit.ClassUploadURL), msgHandler.Upload)
	v1.Post("/messages/mark-delivered", msgHandler.MarkDelivered)
	v1.Post("/messages/mark-read", msgHandler.MarkRead)
	v1.Post("/messages/:id/reactions", msgHandler.React)
	v1.Delete("/messages/:id/reactions/:emoji", msgHandler.Unreact)
	v1.Patch("/messages/:id", msgHandler.Edit)
	v1.Delete("/messages/:id", msgHandler.Delete)

	gatewayHandler := api.NewGatewayHandler(d.fanOut, d.validator)
	app.Get("/api/v1/gateway", gatewayHandler.Upgrade)

	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// withClassLimit returns ratelimit.Middleware for class, or a no-op handler when limiter is nil
// (REDIS_URL unset): an absent cache backend disables caps rather than blocking every request.
func withClassLimit(limiter ratelimit.Limiter, class string) fiber.Handler {
	if limiter == nil {
		return func(c fiber.Ctx) error { return c.Next() }
	}
	return ratelimit.Middleware(limiter, class)
}
