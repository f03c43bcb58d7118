package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/schoolpulse/internal/adapter/api"
	"github.com/V4T54L/schoolpulse/internal/adapter/api/handler"
	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/schoolpulse/internal/adapter/repository/redis"
	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/pkg/auth"
	"github.com/V4T54L/schoolpulse/internal/pkg/config"
	"github.com/V4T54L/schoolpulse/internal/pkg/logger"
	"github.com/V4T54L/schoolpulse/internal/usecase"
)

const busHealthInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("servers shut down gracefully")
}

func run(cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tenant Registry ---
	tenantCfg, err := config.LoadTenants(cfg.TenantsFile)
	if err != nil {
		return err
	}
	opener := &postgres.Opener{
		ConnectTimeout: cfg.PoolConnectTimeout,
		Logger:         log,
		Metrics:        m,
		Registerer:     reg,
	}
	registry, err := usecase.NewTenantRegistry(tenantCfg, opener, log, m)
	if err != nil {
		return err
	}
	defer registry.Close()

	probeCtx, cancelProbe := context.WithTimeout(ctx, cfg.PoolConnectTimeout+time.Second)
	registry.ProbeAtStartup(probeCtx)
	cancelProbe()

	resolver := usecase.NewTenantResolver(registry, log, m)

	// --- Cross-instance Event Bus (optional) ---
	var (
		bus       domain.EventBus
		busStatus handler.BusStatus
		eventBus  *redisrepo.EventBus
	)
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		eventBus = redisrepo.NewEventBus(redisClient, cfg.RedisTopic, log, m)
		bus, busStatus = eventBus, eventBus
	} else {
		log.Info("REDIS_URL not set, fan-out stays within this instance")
	}

	origin := cfg.InstanceID
	if origin == "" {
		origin = uuid.NewString()
	}
	hub := usecase.NewSessionHub(registry.Names(), usecase.HubConfig{
		Origin:        origin,
		SessionBuffer: cfg.SessionBuffer,
	}, bus, log, m)

	// --- HTTP Servers ---
	router := api.NewRouter(cfg, log, api.Dependencies{
		Verifier:  auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Resolver:  resolver,
		Registry:  registry,
		Hub:       hub,
		Publisher: usecase.NewPublishEventUseCase(hub, log),
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server.RegisterOnShutdown(func() {
		// listeners are closed by now; ending live sessions lets SSE requests drain
		log.Info("closed live sessions", "count", hub.Shutdown())
	})
	adminServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           api.NewAdminRouter(registry, hub, busStatus, reg, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", server.Addr, "instance", origin)
		return serve(server)
	})
	g.Go(func() error {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		return serve(adminServer)
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	if eventBus != nil {
		g.Go(func() error {
			eventBus.StartHealthCheck(gctx, busHealthInterval)
			return nil
		})
	}

	// --- Wait for shutdown signal or a failed component ---
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(server.Shutdown(shutdownCtx), adminServer.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
