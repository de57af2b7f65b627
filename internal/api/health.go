package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aio-zber/tms-server/internal/httputil"
)

// RedisPinger is the subset of *redis.Client HealthHandler depends on, so readiness can be tested
// without a live Valkey instance. A nil RedisPinger means no cache/pub-sub backend is configured
// and readiness reports it as healthy by omission.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db  *pgxpool.Pool
	rdb RedisPinger
}

// NewHealthHandler builds a HealthHandler. rdb may be nil.
func NewHealthHandler(db *pgxpool.Pool, rdb RedisPinger) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb}
}

// Live handles GET /health: the process is up, nothing more.
func (h *HealthHandler) Live(c fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready: every configured dependency must answer within a short
// deadline, or the probe reports unready without panicking the request.
func (h *HealthHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	checks := fiber.Map{}
	ready := true

	if err := h.db.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		ready = false
	} else {
		checks["postgres"] = "ok"
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"data":    fiber.Map{"status": "unready", "checks": checks},
		})
	}
	return httputil.Success(c, fiber.Map{"status": "ready", "checks": checks})
}
