package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	_ "github.com/jackc/pgx/v5/stdlib"

	"levra.org/internal/audit"
	"levra.org/internal/auth"
	"levra.org/internal/config"
	"levra.org/internal/httpapi"
	"levra.org/internal/lifecycle"
	"levra.org/internal/obs"
	"levra.org/internal/settlement"
	"levra.org/internal/store/pg"
	"levra.org/internal/stream"
	"levra.org/internal/stream/redisbridge"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	// Инициализация observability (регистрация метрик)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := stream.New(stream.WithBuffer(cfg.StreamBuffer))
	defer hub.Close()

	// Изменения публикуются в локальный hub и, если задан Redis, в остальные инстансы.
	var publisher stream.Publisher = hub
	if cfg.RedisURL != "" {
		client, err := redisbridge.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis")
		}
		defer client.Close()
		bridge := redisbridge.New(client, cfg.RedisChannel, hub)
		publisher = bridge
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.WithError(err).Error("redis bridge stopped")
			}
		}()
	}

	var (
		store lifecycle.Store
		roles auth.Resolver
		ready httpapi.ReadyProbe
	)
	if cfg.UsesPostgres() {
		pgStore, err := pg.Open(cfg.DatabaseURL, publisher)
		if err != nil {
			log.WithError(err).Fatal("postgres")
		}
		defer pgStore.Close()
		store, roles, ready = pgStore, pgStore, httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.WithField("admins", cfg.AdminIDs).Warn("no PORTAL_DATABASE_URL; running on the in-memory store")
		store = lifecycle.NewMemoryStore(publisher)
		roles = auth.NewStaticResolver(cfg.AdminIDs...)
	}

	catalog := lifecycle.DefaultCatalog()
	if cfg.CatalogPath != "" {
		if catalog, err = config.LoadCatalog(cfg.CatalogPath); err != nil {
			log.WithError(err).Fatal("catalog")
		}
	}

	engine := lifecycle.New(store, roles,
		lifecycle.WithCatalog(catalog),
		lifecycle.WithHooks(audit.Hooks{}),
		lifecycle.WithProcessor(settlement.NewSimulated(settlement.WithLatency(cfg.SettlementLatency))),
	)

	opts := []httpapi.Option{
		httpapi.WithCORSOrigins(cfg.CORSOrigins...),
		httpapi.WithRateLimit(cfg.RateLimitBurst, cfg.RateLimitRPS),
	}
	if cfg.DevTokens {
		log.Warn("development token endpoint enabled")
		opts = append(opts, httpapi.WithDevTokens(cfg.TokenTTL))
	}
	api := httpapi.New(ready, version, engine, hub, roles, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout не задаём: /v1/stream держит соединение открытым.
		IdleTimeout: 60 * time.Second,
	}

	health := httpapi.NewGRPCServer(ready, version)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	go health.Watch(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Error("grpc serve")
		}
	}()

	log.WithFields(logrus.Fields{
		"version": version,
		"http":    srv.Addr,
		"grpc":    cfg.GRPCAddr,
		"env":     cfg.Environment,
	}).Info("starting levra portal")

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Закрываем hub до Shutdown, чтобы SSE-подписчики отпустили соединения.
	hub.Close()
	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	log.Info("stopped")
}
