package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studysphere/config"
	"studysphere/internal/handler"
	"studysphere/internal/middleware"
	"studysphere/internal/redis"
	"studysphere/internal/services"
	"studysphere/internal/transport/httpdto"
	"studysphere/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	checks     []HealthCheck
	onShutdown []func()
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Conversation *handler.ConversationHandler
	Message      *handler.MessageHandler
	WebSocket    *handler.WebSocketHandler
}

// HealthCheck is one dependency probed by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
	// Degraded marks a dependency the service can run without.
	Degraded bool
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) AddHealthCheck(check HealthCheck) {
	s.checks = append(s.checks, check)
}

// OnShutdown registers fn to run after the HTTP server has drained, in
// registration order.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// SetupRoutes mounts the API. limiter may be nil, which disables the Redis
// backed rate limits.
func (s *Server) SetupRoutes(handlers *Handlers, authService *services.AuthService, limiter *redis.RateLimiter) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.CORSOrigin))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sendLimit := []gin.HandlerFunc{}
	wsLimit := []gin.HandlerFunc{}
	if limiter != nil {
		sendLimit = append(sendLimit, middleware.MessageRateLimitMiddleware(limiter))
		wsLimit = append(wsLimit, middleware.WebSocketRateLimitMiddleware(limiter))
	}

	v1 := s.engine.Group("/v1", middleware.AuthMiddleware(authService))
	{
		conversations := v1.Group("/conversations")
		conversations.GET("", handlers.Conversation.List)
		conversations.POST("", handlers.Conversation.Create)
		conversations.GET("/unread", handlers.Conversation.Unread)
		conversations.GET("/:id/messages", handlers.Conversation.Messages)
		conversations.POST("/:id/read", handlers.Conversation.Read)

		v1.POST("/messages", append(sendLimit, handlers.Message.Send)...)

		if handlers.WebSocket != nil {
			v1.GET("/ws", append(wsLimit, handlers.WebSocket.Handle)...)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	details := gin.H{}
	for _, check := range s.checks {
		if err := check.Check(c.Request.Context()); err != nil {
			details[check.Name] = err.Error()
			if check.Degraded {
				if status == "healthy" {
					status = "degraded"
				}
				continue
			}
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		details[check.Name] = "ok"
	}
	if code != http.StatusOK {
		c.JSON(code, httpdto.Response[gin.H]{Success: false, Data: details, Error: status, Code: "UNHEALTHY"})
		return
	}
	c.JSON(code, httpdto.NewSuccessResponse(gin.H{"status": status, "checks": details}))
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Error in starting the server: %s", err)
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-quit:
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	case err := <-errCh:
		s.runShutdownHooks()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
	}
	s.runShutdownHooks()
	if err != nil {
		return err
	}

	s.logger.Infof("Server stopped gracefully")
	return nil
}

func (s *Server) runShutdownHooks() {
	for _, fn := range s.onShutdown {
		fn()
	}
}
