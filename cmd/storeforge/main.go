package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rajasatyajit/storeforge/config"
	"github.com/rajasatyajit/storeforge/internal/api"
	"github.com/rajasatyajit/storeforge/internal/auth"
	"github.com/rajasatyajit/storeforge/internal/database"
	"github.com/rajasatyajit/storeforge/internal/logger"
	"github.com/rajasatyajit/storeforge/internal/metrics"
	middlewares "github.com/rajasatyajit/storeforge/internal/middleware"
	"github.com/rajasatyajit/storeforge/internal/quota"
	"github.com/rajasatyajit/storeforge/internal/store"
	"github.com/rajasatyajit/storeforge/internal/usage"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting StoreForge API",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
		"ledger", cfg.LedgerBackend(),
	)

	if cfg.Metrics.Enabled {
		metrics.Init()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database", "error", err)
	}
	defer db.Close(context.Background())

	if db.IsConfigured() && cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", "error", err)
		}
	}

	ledger, err := store.Open(ctx, cfg, db)
	if err != nil {
		logger.Fatal("Failed to open usage ledger", "error", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("Failed to close usage ledger", "error", err)
		}
	}()

	app, err := newApp(cfg, ledger, db)
	if err != nil {
		logger.Fatal("Failed to build application", "error", err)
	}

	scheduler := usage.NewScheduler(usage.NewPruner(ledger, cfg.Retention))
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start usage pruning", "error", err)
	}
	defer scheduler.Stop()

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	app.handler.Guard().Wait()
	cancel()

	logger.Info("Server exited")
}

type app struct {
	router  chi.Router
	handler *api.Handler
}

// newApp wires the limiter, credentials and routes over an open ledger.
// db may be unconfigured.
func newApp(cfg *config.Config, ledger store.Store, db *database.DB) (*app, error) {
	plans := quota.DefaultPlans()
	if cfg.Quota.PlansFile != "" {
		t, err := quota.LoadPlanTable(cfg.Quota.PlansFile)
		if err != nil {
			return nil, err
		}
		plans = t
	}

	limiter := quota.New(ledger,
		quota.WithPlans(plans),
		quota.WithEvaluateTimeout(cfg.Quota.EvaluateTimeout),
		quota.WithLogTimeout(cfg.Quota.LogTimeout),
		quota.WithGenerationMatcher(quota.MarkerMatcher(cfg.Quota.GenerationMarkers...)),
	)

	keys := keyStoreFor(cfg, db)
	resolvers := []auth.Resolver{auth.NewAPIKeyResolver(keys, cfg.Auth.KeyHeader)}
	var sessions *auth.SessionIssuer
	if cfg.Auth.SessionSecret != "" {
		secret := []byte(cfg.Auth.SessionSecret)
		sessions = auth.NewSessionIssuer(secret, cfg.Auth.Issuer)
		resolvers = append([]auth.Resolver{auth.NewSessionResolver(secret, cfg.Auth.Issuer, cfg.Auth.SessionCookie)}, resolvers...)
	} else {
		logger.Warn("AUTH_SESSION_SECRET not set; only API keys are accepted")
	}

	handler := api.NewHandler(ledger, limiter, auth.Chain(resolvers...), keys, sessions, api.Config{
		AdminSecret: cfg.Admin.AdminSecret,
		KeyEnv:      cfg.Auth.KeyEnv,
		SessionTTL:  cfg.Auth.SessionTTL,
		RouteLimit:  quota.RouteLimit{MaxRequests: cfg.Quota.RouteMaxRequests, Window: cfg.Quota.RouteWindow},
		Version:     Version,
		BuildTime:   BuildTime,
		GitCommit:   GitCommit,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.Logging)
	r.Use(middlewares.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.ReadTimeout))
	r.Use(middlewares.Security)
	r.Use(middlewares.CORS(cfg.Server.CORSOrigins))
	if cfg.FloodGuard.Enabled {
		r.Use(middlewares.FloodGuard(cfg.FloodGuard.RPS, cfg.FloodGuard.Burst))
	}
	handler.RegisterRoutes(r)

	return &app{router: r, handler: handler}, nil
}

// keyStoreFor keeps API keys next to users when both live in PostgreSQL.
func keyStoreFor(cfg *config.Config, db *database.DB) auth.KeyStore {
	if cfg.LedgerBackend() == config.LedgerPostgres && db != nil && db.IsConfigured() {
		return auth.NewPostgresKeyStore(db)
	}
	logger.Warn("API keys are held in memory and will not survive a restart")
	return auth.NewMemoryKeyStore()
}

func startMetricsServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", "address", addr, "path", path)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Metrics server failed", "error", err)
	}
}
