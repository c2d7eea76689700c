// Filedock Server
//
// Features:
// - Multi-tenant file storage with per-tenant isolated roots
// - Listing, upload, create, rename, move, duplicate, delete
// - Single- and cross-tenant search with bounded traversal
// - Public/private access levels with ancestor inheritance
// - SSE change feed
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/codekarta/filedock/internal/access"
	"github.com/codekarta/filedock/internal/auth"
	"github.com/codekarta/filedock/internal/config"
	"github.com/codekarta/filedock/internal/events"
	"github.com/codekarta/filedock/internal/logging"
	"github.com/codekarta/filedock/internal/metrics"
	"github.com/codekarta/filedock/internal/server"
	"github.com/codekarta/filedock/internal/store/postgres"
	"github.com/codekarta/filedock/internal/tenant"
	"github.com/codekarta/filedock/internal/vfs"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Filedock Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("tenant_source", cfg.TenantSource))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the tenant registry, user store, and access-level store from
	// the configured source.
	var (
		registry    tenant.Registry
		users       auth.UserStore
		accessStore access.Store
	)
	switch cfg.TenantSource {
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		pg, err := postgres.New(cfg.DatabaseURL, cfg.TenantsDir)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.InitSchema(ctx); err != nil {
			logging.Fatal("schema init failed", zap.Error(err))
		}
		if err := pg.EnsureDefaultAdmin(ctx, "admin", envOr("ADMIN_PASSWORD", "admin")); err != nil {
			logging.Error("failed to ensure default admin", zap.Error(err))
		}
		registry, users, accessStore = pg, pg, pg
	default:
		static, err := tenant.FromDir(cfg.TenantsDir)
		if err != nil {
			logging.Fatal("tenant scan failed", zap.Error(err))
		}
		mem := auth.NewMemoryUsers()
		if pw := os.Getenv("ADMIN_PASSWORD"); pw != "" {
			if err := mem.Add("admin", pw, auth.RoleSuperadmin, ""); err != nil {
				logging.Fatal("admin account setup failed", zap.Error(err))
			}
		}
		registry, users, accessStore = static, mem, access.NewMemoryStore()
	}

	authHandler := auth.New(users, cfg.JWTSecret, cfg.TokenTTL)
	broadcaster := events.NewBroadcaster()

	ops := vfs.NewOps(vfs.NewResolver(registry), accessStore, vfs.Options{
		UploadWorkers:  cfg.UploadWorkers,
		SearchMaxDepth: cfg.SearchMaxDepth,
		SearchMaxNodes: cfg.SearchMaxNodes,
	})

	srv := server.New(ops, authHandler, broadcaster, cfg.MaxUploadSize, cfg.RequestTimeout)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	if useTLS {
		logging.Info("server listening (TLS)", zap.String("addr", cfg.ListenAddr))
		err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
