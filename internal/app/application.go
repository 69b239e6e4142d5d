package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/database"
	"rollcall/internal/websocket"
	pkgdatabase "rollcall/pkg/database"
)

const limiterCleanupInterval = time.Minute

// Application coordinates the sandbox components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	registry   *websocket.Registry
	issuer     *auth.Issuer
	limiter    *api.RateLimiter
	apiServer  *api.Server
	httpServer *http.Server

	stopCleanup chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewApplication creates a new sandbox with all components initialized
// Component initialization follows strict dependency order:
// Database → Migrations → Seed → Registry → Auth → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	sandbox := cfg.Sandbox

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = sandbox.DatabasePath

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: Apply database migrations to ensure schema is up to date
	if err := dbManager.Migrate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	// STEP 3: Seed demo lecturers, groups and students into an empty database
	if sandbox.Seed {
		seeded, err := dbManager.Seed(context.Background())
		if err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to seed database: %w", err)
		}
		if seeded {
			log.Printf("app: seeded demo data into %s", sandbox.DatabasePath)
		}
	}

	// STEP 4: Initialize WebSocket registry for live feed tracking
	registry := websocket.NewRegistry()

	// STEP 5: Initialize token issuer shared by the API and the feed handler
	issuer, err := auth.NewIssuer(sandbox.JWTSecret, nil)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	// STEP 6: Initialize API server with all business dependencies
	limiter := api.NewRateLimiter(sandbox.MarkRateLimit, time.Minute, nil)
	apiServer := api.NewServer(dbManager, registry, issuer, limiter, api.Options{
		SessionLength: sandbox.SessionLength,
		ExtendBy:      sandbox.ExtendBy,
	})

	// STEP 7: Setup HTTP server; the API routes include the websocket feed
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", sandbox.Host, sandbox.Port),
		Handler:      apiServer,
		ReadTimeout:  sandbox.ReadTimeout,
		WriteTimeout: sandbox.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		registry:    registry,
		issuer:      issuer,
		limiter:     limiter,
		apiServer:   apiServer,
		httpServer:  httpServer,
		stopCleanup: make(chan struct{}),
	}, nil
}

// Start begins application execution
// The limiter janitor starts first, then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting rollcall sandbox on %s", app.httpServer.Addr)

	// STEP 1: Start rate limiter cleanup (background maintenance)
	app.wg.Add(1)
	go app.cleanupLoop()

	// STEP 2: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		app.stopBackground()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Rollcall sandbox started successfully")
		return nil
	case <-ctx.Done():
		app.stopBackground()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → background work → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down rollcall sandbox")

	// STEP 1: Stop accepting new requests; hijacked feed sockets are not tracked by Shutdown
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Stop background maintenance
	app.stopBackground()

	// STEP 3: Close database connections
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Rollcall sandbox shutdown complete")
	return nil
}

func (app *Application) stopBackground() {
	app.stopOnce.Do(func() {
		close(app.stopCleanup)
	})
	app.wg.Wait()
}

func (app *Application) cleanupLoop() {
	defer app.wg.Done()
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := app.limiter.Cleanup(); removed > 0 {
				log.Printf("app: dropped %d idle rate limit entries", removed)
			}
		case <-app.stopCleanup:
			return
		}
	}
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// Handler returns the HTTP handler serving the API and live feeds
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Issuer returns the token issuer, for minting development tokens
func (app *Application) Issuer() *auth.Issuer {
	return app.issuer
}
