package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"studysphere/config"
	"studysphere/internal/commands"
	"studysphere/internal/events"
	"studysphere/internal/handler"
	"studysphere/internal/identity"
	"studysphere/internal/realtime"
	"studysphere/internal/redis"
	"studysphere/internal/repository"
	"studysphere/internal/server"
	"studysphere/internal/services"
	"studysphere/internal/storage"
	"studysphere/pkg/database"
	"studysphere/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	if err := run(cfg, l); err != nil {
		l.Errorf("server exited: %s", err)
		l.Sync()
		log.Fatal(err)
	}
}

func run(cfg *config.Config, l *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	if err := repository.PrepareServingSchema(ctx, db); err != nil {
		if errors.Is(err, repository.ErrPairRepairRequired) {
			l.Errorf("refusing to start without the unique pair index: %s", err)
		}
		return fmt.Errorf("init schema: %w", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redis.Ping(ctx, redisClient); err != nil {
		l.Warnf("redis unavailable at startup, relay and rate limits degraded: %s", err)
	}

	publisher := redis.NewBreakerPublisher(redis.NewPublisher(redisClient), redis.DefaultBreakerConfig("redis-publish"), l)
	limiter := redis.NewRateLimiter(redisClient, redis.RateLimitConfig{
		MessageLimit:    cfg.MessageRateLimit,
		MessageWindow:   redis.DefaultRateLimitConfig().MessageWindow,
		WebSocketLimit:  cfg.WebSocketRateLimit,
		WebSocketWindow: redis.DefaultRateLimitConfig().WebSocketWindow,
	})

	sessionLogger := realtime.NewSessionLogger(l)
	hub := realtime.NewHub(sessionLogger)
	go hub.Run()

	var relay *realtime.Relay
	if cfg.RelayEnabled {
		relay = realtime.NewRelay(publisher, redis.NewSubscriber(redisClient), cfg.InstanceID)
	}
	realtimeBus := realtime.NewBus(hub, relay, sessionLogger)
	if err := realtimeBus.Start(ctx); err != nil {
		l.Warnf("relay subscription failed, delivering to local sessions only: %s", err)
	}

	var avatars identity.AvatarSigner
	if cfg.S3Enabled() {
		s3Client, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
			PresignTTL: cfg.S3PresignTTL,
		})
		if err != nil {
			return fmt.Errorf("s3 client: %w", err)
		}
		avatars = s3Client
	}
	resolver := identity.NewCachedResolver(
		identity.NewResolver(repository.NewUserRepository(db), repository.NewProfileRepository(db), avatars, l),
		redis.NewCacheStore(redisClient, redis.DefaultCacheConfig()),
		l,
	)

	bus := commands.NewBus()
	authService := services.NewAuthService(cfg)
	conversationService := services.NewConversationService(db, resolver, realtimeBus, bus, l)
	messageService := services.NewMessageService(db, conversationService, realtimeBus, events.NewPubSubNotifier(publisher), bus, l)

	srv := server.New(cfg, l)
	srv.AddHealthCheck(server.HealthCheck{
		Name:  "database",
		Check: func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
	})
	srv.AddHealthCheck(server.HealthCheck{
		Name:  "pair_index",
		Check: func(ctx context.Context) error { return repository.CheckPairIndex(ctx, db) },
	})
	srv.AddHealthCheck(server.HealthCheck{
		Name:     "redis",
		Check:    func(ctx context.Context) error { return redis.Ping(ctx, redisClient) },
		Degraded: true,
	})
	srv.AddHealthCheck(server.HealthCheck{
		Name: "relay_breaker",
		Check: func(context.Context) error {
			if state := publisher.State(); state == "open" {
				return fmt.Errorf("circuit %s", state)
			}
			return nil
		},
		Degraded: true,
	})
	srv.OnShutdown(cancel)
	srv.OnShutdown(hub.Stop)
	srv.OnShutdown(func() { _ = redisClient.Close() })
	srv.OnShutdown(func() { _ = database.Close(db) })

	srv.SetupRoutes(&server.Handlers{
		Conversation: handler.NewConversationHandler(conversationService, messageService),
		Message:      handler.NewMessageHandler(messageService),
		WebSocket: handler.NewWebSocketHandler(hub, bus, sessionLogger, realtime.ClientOptions{
			BufferSize: cfg.SessionBufferSize,
			Limiter:    limiter,
		}, cfg.CORSOrigin),
	}, authService, limiter)

	return srv.Start()
}
