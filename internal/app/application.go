package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"boardhub/internal/access"
	"boardhub/internal/api"
	"boardhub/internal/auth"
	"boardhub/internal/config"
	"boardhub/internal/database"
	"boardhub/internal/hub"
	"boardhub/internal/router"
	"boardhub/internal/status"
	"boardhub/internal/websocket"
	"boardhub/pkg/interfaces"
	pkgdatabase "boardhub/pkg/database"
)

// Application coordinates all system components
// Component initialization follows strict dependency order:
// Database → Identity → Access → Status → Hub → Router → WebSocket → API → HTTP
type Application struct {
	config        *config.Config
	logger        *zap.Logger
	dbManager     *database.Manager
	redisClient   *redis.Client
	statusWriter  *status.Writer
	messageHub    *hub.Hub
	registry      *websocket.Registry
	messageRouter *router.Router
	apiServer     *api.Server
	httpServer    *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewApplication creates a new application instance with all components initialized
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: database manager (foundation layer); migrations run inside NewManager
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.WriteTimeout = cfg.Database.Timeout
	dbConfig.RetryDelay = cfg.Database.RetryDelay
	dbConfig.MigrationsPath = cfg.Database.MigrationsPath

	dbManager, err := database.NewManager(dbConfig, logger.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: identity and access, both backed by the database
	resolver := auth.NewResolver(cfg.Auth.Secret, dbManager, logger.Named("auth"))
	policy := access.NewPolicy(dbManager, cfg.Auth.AccessCacheTTL, logger.Named("access"))
	dbManager.OnChange(policy.Invalidate)

	// STEP 3: status writer with the database sink and an optional Redis mirror
	sinks := []interfaces.StatusSink{dbManager}
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Status writes are best-effort; keep the sink and let it log failures.
			logger.Warn("Redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
		sinks = append(sinks, status.NewRedisSink(redisClient))
	}
	statusWriter := status.NewWriter(cfg.Status.QueueSize, cfg.Status.WriteTimeout, logger.Named("status"), sinks...)

	// STEP 4: hub
	messageHub := hub.NewHub(hub.Config{
		MaxRoomSize:   cfg.Hub.MaxRoomSize,
		InboxSize:     cfg.Hub.InboxSize,
		CursorTTL:     cfg.Hub.CursorTTL,
		SweepInterval: cfg.Hub.SweepInterval,
	}, logger.Named("hub"))

	// STEP 5: router and websocket transport
	messageRouter := router.NewRouter(messageHub, resolver, policy, statusWriter, router.Config{
		RateLimit:  cfg.Hub.RateLimit,
		RateWindow: cfg.Hub.RateWindow,
	}, logger.Named("router"))

	registry := websocket.NewRegistry()
	wsHandler := websocket.NewHandler(messageRouter, registry, websocket.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		OverflowPolicy: websocket.OverflowPolicy(cfg.WebSocket.OverflowPolicy),
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, logger.Named("websocket"))

	// STEP 6: HTTP surface
	apiServer := api.NewServer(messageHub, dbManager, wsHandler, cfg.HTTP.AllowedOrigins, logger.Named("api"))
	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:        cfg,
		logger:        logger,
		dbManager:     dbManager,
		redisClient:   redisClient,
		statusWriter:  statusWriter,
		messageHub:    messageHub,
		registry:      registry,
		messageRouter: messageRouter,
		apiServer:     apiServer,
		httpServer:    httpServer,
	}, nil
}

// Start begins application execution
// Background workers start first, then the listener is bound so the
// address is known before Start returns
func (app *Application) Start(ctx context.Context) error {
	if err := app.statusWriter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start status writer: %w", err)
	}
	if err := app.messageHub.Start(ctx); err != nil {
		_ = app.statusWriter.Stop()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.messageHub.Stop()
		_ = app.statusWriter.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.listener = listener
	app.serveErr = make(chan error, 1)
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
			app.serveErr <- err
		}
		close(app.serveErr)
	}()

	app.logger.Info("Boardhub started", zap.String("addr", listener.Addr().String()))
	return nil
}

// Errors delivers a fatal serve error, if any; it is closed when serving stops.
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Addr returns the bound listen address, or the configured one before Start.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Database exposes the store for seeding and administration.
func (app *Application) Database() *database.Manager {
	return app.dbManager
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → sockets → Hub → Status → Redis → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("Shutting down boardhub")

	// STEP 1: stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// STEP 2: hijacked websockets are not tracked by http.Server; close them
	// and give their sessions a chance to leave rooms and record offline status
	app.registry.CloseAll()
	app.waitForConnections(ctx)

	// STEP 3: room actors
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Warn("Hub shutdown error", zap.Error(err))
	}

	// STEP 4: drain pending status writes while the sinks are still open
	if err := app.statusWriter.Stop(); err != nil && !errors.Is(err, status.ErrWriterNotRunning) {
		app.logger.Warn("Status writer shutdown error", zap.Error(err))
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Warn("Redis close error", zap.Error(err))
		}
	}

	// STEP 5: database
	if err := app.dbManager.Close(); err != nil {
		return fmt.Errorf("database shutdown: %w", err)
	}

	app.logger.Info("Boardhub shutdown complete")
	return nil
}

func (app *Application) waitForConnections(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for app.registry.Len() > 0 {
		select {
		case <-ctx.Done():
			app.logger.Warn("Connections still open at shutdown", zap.Int("count", app.registry.Len()))
			return
		case <-ticker.C:
		}
	}
}
