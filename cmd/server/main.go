// Thermatix host server
//
// Mediates persistence requests from the embedded simulation engine:
// - JWT/OIDC session gate with sign-in deferral
// - S3-backed result storage with a folder-view projection
// - PostgreSQL simulation records
// - durable pending intents across the sign-in round-trip
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/samaffleck/Thermatix/internal/api"
	"github.com/samaffleck/Thermatix/internal/auth"
	"github.com/samaffleck/Thermatix/internal/bridge"
	"github.com/samaffleck/Thermatix/internal/config"
	"github.com/samaffleck/Thermatix/internal/engine"
	"github.com/samaffleck/Thermatix/internal/ledger"
	"github.com/samaffleck/Thermatix/internal/logging"
	"github.com/samaffleck/Thermatix/internal/notify"
	"github.com/samaffleck/Thermatix/internal/simstore"
	s3storage "github.com/samaffleck/Thermatix/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.InitDefault()
		logging.Fatal("configuration error", zap.Error(err))
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		logging.InitDefault()
	}
	defer logging.Sync()

	logging.Info("Thermatix server starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL simulation store
	logging.Info("connecting to PostgreSQL")
	sims, err := simstore.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer sims.Close()

	if dir := findMigrationsDir(); dir != "" {
		logging.Info("running migrations", zap.String("dir", dir))
		if err := sims.Migrate(dir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// S3 blob store
	logging.Info("connecting to S3", zap.String("endpoint", cfg.S3Endpoint))
	blobs, err := s3storage.NewBackend(ctx, s3storage.BackendConfig{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		logging.Fatal("S3 init failed", zap.Error(err))
	}
	defer blobs.Close()

	// Session gate
	authHandler := auth.New(sims.DB(), cfg.JWTSecret)
	if err := authHandler.EnsureDefaultAdmin(ctx); err != nil {
		logging.Error("failed to ensure default admin", zap.Error(err))
	}
	if cfg.OIDCIssuerURL != "" {
		oidcProvider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
		}, authHandler)
		if err != nil {
			logging.Fatal("OIDC init failed", zap.Error(err))
		}
		authHandler.SetOIDCProvider(oidcProvider)
	}
	gate := auth.NewSessionGate(cfg.SignInPath)

	// Pending-intent ledger
	intents, err := ledger.New(cfg.LedgerPath, cfg.LedgerTTL)
	if err != nil {
		logging.Fatal("ledger init failed", zap.Error(err))
	}

	notifier := notify.NewBroadcaster()
	modals := bridge.NewRegistry()
	controller := bridge.NewController(gate, blobs, sims, intents, modals, notifier, cfg.ProtectedPath)
	tracker := engine.NewStatusTracker()

	srv := api.NewServer(controller, sims, blobs, authHandler, notifier, tracker)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down")
		cancel()
		httpServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
