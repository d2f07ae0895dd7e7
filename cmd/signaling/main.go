package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/randomchat-signaling/config"
	"github.com/mossy-p/randomchat-signaling/internal/handlers"
	"github.com/mossy-p/randomchat-signaling/internal/logging"
	"github.com/mossy-p/randomchat-signaling/internal/matchmaking"
	"github.com/mossy-p/randomchat-signaling/internal/metrics"
	"github.com/mossy-p/randomchat-signaling/internal/redis"
	"github.com/mossy-p/randomchat-signaling/internal/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	policy, err := matchmaking.ParseRelayPolicy(cfg.RelayPolicy)
	if err != nil {
		return fmt.Errorf("RELAY_POLICY: %w", err)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reg := registry.New()
	m := metrics.New(promRegistry, reg.Stats)
	observers := matchmaking.Observers{m}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Redis.Enabled {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		logger.Info("Redis connection established", zap.String("stream", cfg.Redis.SessionStream))

		sink := redis.NewSessionSink(client, cfg.Redis.SessionStream, cfg.Redis.StreamMaxLen, logger.Named("sessions"))
		observers = append(observers, sink)
		g.Go(func() error { return sink.Run(gctx) })
	}

	svc := matchmaking.New(reg, matchmaking.Options{
		RelayPolicy: policy,
		Observer:    observers,
		Logger:      logger.Named("matchmaking"),
	})
	hub := handlers.NewHub(svc, m, logger.Named("ws"))
	router := handlers.NewRouter(cfg, hub, promRegistry, logger.Named("http"))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Starting signaling server", zap.String("addr", srv.Addr), zap.String("relay_policy", string(policy)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
