package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/web3money/portal/internal/config"
	"github.com/web3money/portal/internal/db"
	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/gate"
	"github.com/web3money/portal/internal/gateway"
	"github.com/web3money/portal/internal/logging"
	"github.com/web3money/portal/internal/metrics"
	"github.com/web3money/portal/internal/service"
	"github.com/web3money/portal/internal/session"
	"github.com/web3money/portal/internal/store"
	"github.com/web3money/portal/internal/voting"
	"github.com/web3money/portal/internal/web"
	"github.com/web3money/portal/internal/web/templates"
)

type applicantSource interface {
	Applicants(ctx context.Context) ([]domain.Applicant, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	gateCfg, err := loadGateConfig(cfg)
	if err != nil {
		logger.Error("failed to load gate config", "path", cfg.GateConfig, "error", err)
		return
	}

	cache, closeCache, err := newIdentityCache(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize identity cache", "backend", cfg.CacheBackend, "error", err)
		return
	}
	defer closeCache()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	client := gateway.NewClient(cfg.GatewayURL, cfg.GatewayTimeout, logger, m)
	attempts := store.NewAttemptStore(database)

	var readonly applicantSource
	if cfg.ReadonlyGASURL != "" {
		readonly = gateway.NewReadonlySource(cfg.ReadonlyGASURL, cfg.GatewayTimeout, logger, m)
		logger.Info("readonly diagnostic view enabled")
	}

	retry := gateway.RetryConfig{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}
	portalService := service.NewPortalService(client, readonly, attempts, retry, cfg.Location(), logger)
	workflow := voting.New(client, cache, attempts, m, logger)

	if cfg.Development() {
		logger.Warn("development mode: referrer checks relaxed and relay override enabled")
	}

	server := web.NewServer(web.Deps{
		Gate:        gate.New(gateCfg),
		Workflow:    workflow,
		Service:     portalService,
		Sessions:    web.NewCookieStore([]byte(cfg.SessionSecret), cfg.SecureCookies),
		DB:          database,
		Gatherer:    reg,
		Metrics:     m,
		Development: cfg.Development(),
		Templates:   templates.FS,
		Logger:      logger,
	})
	httpServer := server.HTTPServer(cfg.ListenAddr)

	go func() {
		logger.Info("starting server", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func loadGateConfig(cfg *config.Config) (gate.Config, error) {
	gateCfg := gate.DefaultConfig()
	if cfg.GateConfig != "" {
		loaded, err := gate.LoadConfig(cfg.GateConfig)
		if err != nil {
			return gate.Config{}, err
		}
		gateCfg = loaded
	}
	if cfg.DevelopmentStage {
		gateCfg.Main.DevelopmentStage = true
	}
	return gateCfg, nil
}

func newIdentityCache(cfg *config.Config, logger *slog.Logger) (session.Cache, func(), error) {
	switch cfg.CacheBackend {
	case "redis":
		rc, err := session.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis identity cache")
		return rc, func() {
			if err := rc.Close(); err != nil {
				logger.Error("failed to close redis", "error", err)
			}
		}, nil
	default:
		logger.Info("using in-memory identity cache")
		return session.NewMemoryCache(), func() {}, nil
	}
}
