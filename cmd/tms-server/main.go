package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aio-zber/tms-server/internal/attachment"
	"github.com/aio-zber/tms-server/internal/auth"
	"github.com/aio-zber/tms-server/internal/blob"
	"github.com/aio-zber/tms-server/internal/block"
	"github.com/aio-zber/tms-server/internal/config"
	"github.com/aio-zber/tms-server/internal/conversation"
	"github.com/aio-zber/tms-server/internal/event"
	"github.com/aio-zber/tms-server/internal/gateway"
	"github.com/aio-zber/tms-server/internal/httputil"
	"github.com/aio-zber/tms-server/internal/identity"
	"github.com/aio-zber/tms-server/internal/logging"
	"github.com/aio-zber/tms-server/internal/message"
	"github.com/aio-zber/tms-server/internal/postgres"
	"github.com/aio-zber/tms-server/internal/presence"
	"github.com/aio-zber/tms-server/internal/ratelimit"
	"github.com/aio-zber/tms-server/internal/status"
	"github.com/aio-zber/tms-server/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// tokenIssuer is the JWT issuer claim minted by AuthHandler.Login and checked by HMACValidator.
const tokenIssuer = "tms-server"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("starting tms-server")

	if cfg.AllowedOrigins == "*" {
		logger.Warn().Msg("ALLOWED_ORIGINS is set to a wildcard; set an explicit origin list in production")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("postgres connected")

	if err := postgres.Migrate(cfg.DatabaseURLSync, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("database migrations complete")

	// Valkey is an optional cache + pub/sub transport; its absence degrades caching,
	// presence, rate limiting and cross-process fan-out, but must never be fatal.
	var rdb *redis.Client
	if cfg.CacheEnabled() {
		rdb, err = valkey.Connect(ctx, cfg.RedisURL, 5*time.Second)
		if err != nil {
			logger.Warn().Err(err).Msg("valkey connection failed, continuing without cache/pub-sub")
			rdb = nil
		} else {
			defer func() { _ = rdb.Close() }()
			logger.Info().Msg("valkey connected")
		}
	} else {
		logger.Warn().Msg("REDIS_URL is not configured; cache, presence, rate limiting and cross-process fan-out are disabled")
	}

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	// Repositories
	userRepo := identity.NewPGRepository(db, logger)
	convRepo := conversation.NewPGRepository(db, logger)
	messageRepo := message.NewPGRepository(db, logger)
	statusRepo := status.NewPGRepository(db, logger)
	attachmentRepo := attachment.NewPGRepository(db, logger)
	blockRepo := block.NewPGRepository(db)

	var userCache identity.Cache
	var presenceStore *presence.Store
	var eventPublisher event.Publisher
	var rateLimiter ratelimit.Limiter
	if rdb != nil {
		userCache = identity.NewValkeyCache(rdb, logger)
		presenceStore = presence.NewStore(presence.NewValkeyClient(rdb))
		eventPublisher = event.NewValkeyPublisher(rdb, logger)
		rateLimiter = ratelimit.NewValkeyLimiter(rdb)
	}

	idpClient := identity.NewHTTPIdPClient(cfg.IdPAPIURL, cfg.IdPAPIKey, &http.Client{Timeout: cfg.IdPAPITimeout})
	reflector := identity.NewReflector(userRepo, userCache, idpClient, cfg.UserStalenessTTL, logger)
	nameLookup := displayNameLookup{reflector: reflector}

	// ConversationStore.Rename/AddMember/RemoveMember and MessageIngest.Send depend on each other
	// (Store announces member changes as chat-history system messages via Ingest; Ingest resolves
	// conversation membership via Store). announcerProxy breaks the construction cycle: Store is
	// built first against a not-yet-populated proxy, Ingest is built against the now-complete
	// Store, and the proxy is pointed at Ingest once it exists.
	announcer := &announcerProxy{}
	convStore := conversation.NewStore(convRepo, blockRepo, announcer, eventPublisher, logger)
	messageIngest := message.NewIngest(messageRepo, convStore, blockRepo, nameLookup, attachmentRepo, eventPublisher, logger)
	announcer.ingest = messageIngest

	statusMachine := status.NewMachine(statusRepo, convStore, convRepo, eventPublisher, logger)

	blobBroker := blob.NewBroker(cfg.OSSEndpoint, cfg.OSSBucket, cfg.OSSSecretKey, int64(cfg.MaxUploadSizeMB)*1024*1024,
		attachmentRepo, messageIngest, convStore, logger)

	validator := &auth.HMACValidator{Secret: cfg.JWTSecret, Issuer: tokenIssuer}

	fanOut := gateway.NewFanOut(convStore, presenceStore, eventPublisher, 0, logger)
	if rdb != nil {
		go runWithBackoff(subCtx, "gateway-fanout", func(ctx context.Context) error {
			sub := event.Subscribe(ctx, rdb)
			defer func() { _ = sub.Close() }()
			return fanOut.Run(ctx, sub)
		})
	}

	go runOrphanPurge(subCtx, attachmentRepo, logger)

	app := fiber.New(fiber.Config{
		AppName:      "tms-server",
		BodyLimit:    cfg.BodyLimitBytes(),
		ErrorHandler: httputil.ErrorHandler,
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.AllowedOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitPerMinute,
		Expiration: time.Minute,
	}))

	registerRoutes(app, routeDeps{
		cfg:           cfg,
		db:            db,
		rdb:           rdb,
		validator:     validator,
		reflector:     reflector,
		convStore:     convStore,
		messageIngest: messageIngest,
		statusMachine: statusMachine,
		blobBroker:    blobBroker,
		fanOut:        fanOut,
		rateLimiter:   rateLimiter,
		logger:        logger,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info().Msg("shutting down")
		subCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	logger.Info().Str("addr", addr).Msg("server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// announcerProxy breaks the ConversationStore/MessageIngest construction cycle described in run.
type announcerProxy struct {
	ingest *message.Ingest
}

func (p *announcerProxy) AnnounceSystemMessage(ctx context.Context, conversationID, actorID, action string) {
	if p.ingest == nil {
		return
	}
	p.ingest.AnnounceSystemMessage(ctx, conversationID, actorID, action)
}

// displayNameLookup adapts identity.Reflector to message.DisplayNameLookup.
type displayNameLookup struct {
	reflector *identity.Reflector
}

func (d displayNameLookup) DisplayName(ctx context.Context, userID string) (string, error) {
	u, err := d.reflector.GetLocalUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.DisplayName, nil
}

// redisPinger adapts *redis.Client to api.RedisPinger.
type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// runOrphanPurge periodically deletes PendingAttachment rows that were never linked to a message
//, on the same hourly cadence the teacher repo uses for its own
// retention sweeps.
func runOrphanPurge(ctx context.Context, attachments attachment.Repository, logger zerolog.Logger) {
	const (
		interval  = time.Hour
		orphanTTL = 24 * time.Hour
	)
	purge := func() {
		keys, err := attachments.PurgeOrphans(ctx, time.Now().Add(-orphanTTL))
		if err != nil {
			logger.Warn().Err(err).Msg("failed to purge orphaned attachments")
			return
		}
		if len(keys) > 0 {
			logger.Info().Int("deleted", len(keys)).Msg("purged orphaned pending attachments")
		}
	}
	purge()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil,
// non-cancelled error. Cross-process fan-out is best-effort: a dropped pub/sub connection must
// reconnect rather than take the gateway down.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = 2 * time.Minute

	for {
		err := fn(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		delay := b.NextBackOff()
		log.Error().Err(err).Str("service", name).Dur("retry_in", delay).Msg("background service stopped, restarting after delay")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
