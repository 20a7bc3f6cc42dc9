package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"liveattend/internal/api"
	"liveattend/internal/backend"
	"liveattend/internal/config"
	"liveattend/internal/controller"
	"liveattend/internal/database"
	"liveattend/internal/events"
	"liveattend/internal/hub"
	"liveattend/internal/media"
	"liveattend/internal/session"
	"liveattend/internal/signaling"
	"liveattend/internal/summary"
	"liveattend/internal/websocket"
	pkgdatabase "liveattend/pkg/database"
	"liveattend/pkg/interfaces"
)

// Application coordinates all system components
type Application struct {
	config         *config.Config
	dbManager      *database.Manager
	registry       *websocket.Registry
	messageHub     *hub.Hub
	sessionManager *session.Manager
	controller     *controller.Controller
	apiServer      *api.Server
	httpServer     *http.Server
}

// NewApplication wires every component in dependency order:
// Database → Migrations → Hub → Signaling → Media → Session → Feed →
// Controller → Summary → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	wsBase, err := cfg.Backend.WebSocketURL()
	if err != nil {
		return nil, err
	}

	// STEP 1: attendance journal
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  4,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationSource())
	if err := migrationManager.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("journal schema is invalid: %w", err)
	}
	log.Println("Database migrations applied successfully")

	// STEP 2: observer fan-out
	registry := websocket.NewRegistry()
	messageHub := hub.NewHub(registry)

	// STEP 3: signaling and media
	var signalingClient interfaces.SignalingClient
	switch cfg.Signaling.Transport {
	case config.TransportSocket:
		signalingClient = signaling.NewSocketClient(wsBase, cfg.Signaling.Timeout, websocket.ConnectionConfig{
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			BufferSize:   cfg.WebSocket.BufferSize,
		})
	default:
		signalingClient = signaling.NewHTTPClient(cfg.Backend.BaseURL, cfg.Signaling.Timeout)
	}

	peers := media.NewFactory(media.FactoryConfig{
		ICEServers: cfg.Signaling.ICEServers,
		// the offer endpoint takes no trickled candidates
		WaitForGathering: cfg.Signaling.Transport != config.TransportSocket,
	})

	// STEP 4: the process-wide connection manager
	sessionManager := session.Init(peers, signalingClient, session.Config{
		SignalingTimeout:  cfg.Signaling.Timeout,
		FirstFrameTimeout: cfg.Media.FirstFrameTimeout,
	})
	sessionManager.AddStateSink(messageHub)

	// STEP 5: live event feed, announcing through the hub
	feedConfig := events.DefaultConfig()
	feedConfig.Reconnect = cfg.Feed.Reconnect
	feedConfig.ReconnectBaseDelay = cfg.Feed.ReconnectBaseDelay
	feedConfig.ReconnectMaxDelay = cfg.Feed.ReconnectMaxDelay
	feedConfig.PingInterval = cfg.Feed.PingInterval
	feedConfig.ReadTimeout = cfg.Feed.ReadTimeout
	feedConfig.BufferSize = cfg.Feed.BufferSize
	feedConfig.TimeLayout = cfg.Feed.TimeLayout
	feed := events.NewFeed(wsBase, messageHub, feedConfig)

	// STEP 6: controller façade
	liveController := controller.New(sessionManager, feed, dbManager, messageHub)

	// STEP 7: summaries from the backend and the journal
	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout)
	summaries := summary.NewService(backendClient, dbManager)

	// STEP 8: control API and observer stream
	observers := websocket.NewHandler(registry, sessionManager, websocket.HandlerConfig{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		Connection: websocket.ConnectionConfig{
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			BufferSize:   cfg.WebSocket.BufferSize,
		},
	})
	apiServer := api.NewServer(liveController, summaries, http.HandlerFunc(observers.HandleObserver), api.Health{
		Journal:     dbManager,
		Observers:   registry,
		Connections: sessionManager,
		Hub:         messageHub,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		dbManager:      dbManager,
		registry:       registry,
		messageHub:     messageHub,
		sessionManager: sessionManager,
		controller:     liveController,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

// Start runs the hub and then begins serving HTTP
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting liveattend on %s", app.httpServer.Addr)

	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.messageHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("liveattend started successfully")
		return nil
	case <-ctx.Done():
		_ = app.messageHub.Stop()
		return ctx.Err()
	}
}

// Stop ends the live session first, then shuts down in reverse order:
// HTTP → observers → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down liveattend")

	app.controller.Stop()

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.registry.CloseAll()

	if err := app.messageHub.Stop(); err != nil {
		log.Printf("Message hub shutdown error: %v", err)
	}

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("liveattend shutdown complete")
	return nil
}

// GetAddr returns the configured listen address
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// Handler returns the root HTTP handler
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
