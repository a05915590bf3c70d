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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/galadrimteam/groupchat/internal/chat"
	"github.com/galadrimteam/groupchat/internal/config"
	"github.com/galadrimteam/groupchat/internal/logging"
	"github.com/galadrimteam/groupchat/internal/metrics"
	"github.com/galadrimteam/groupchat/internal/relay"
	"github.com/galadrimteam/groupchat/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("goodbye")
	_ = logger.Sync()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize services
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	registry := chat.NewRegistry()
	broker := chat.NewBroker(registry,
		chat.WithBrokerObserver(m),
		chat.WithBrokerLogger(logger.Named("broker")),
	)
	gateway := chat.NewGateway(registry,
		chat.WithQueueSize(cfg.QueueSize),
		chat.WithDrainTimeout(cfg.DrainTimeout),
		chat.WithGatewayObserver(m),
		chat.WithGatewayLogger(logger.Named("gateway")),
	)

	g, gctx := errgroup.WithContext(ctx)

	var rel chat.Relay = broker
	if cfg.RedisURL != "" {
		client, err := relay.Connect(ctx, cfg.RedisURL, 5, time.Second)
		if err != nil {
			return err
		}
		defer client.Close()

		r := relay.NewRedis(client, cfg.RedisChannelPrefix, broker, logger.Named("relay"))
		rel = r
		g.Go(func() error { return r.Run(gctx) })
		logger.Info("redis relay enabled", zap.String("prefix", cfg.RedisChannelPrefix))
	}

	publisher := chat.NewPublisher(rel,
		chat.WithPublisherObserver(m),
		chat.WithPublisherLogger(logger.Named("publisher")),
	)

	handlers := &server.Handlers{
		Gateway:      gateway,
		Publisher:    publisher,
		Registry:     registry,
		Logger:       logger.Named("http"),
		DefaultTopic: cfg.DefaultTopic,
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Subscriptions are long-lived, so no server-wide WriteTimeout; each
	// connection sets its own write deadlines.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.NewRouter(handlers, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Close sessions first: open websockets and streams keep Shutdown
		// waiting otherwise.
		if err := gateway.Close(shutdownCtx); err != nil {
			logger.Warn("sessions did not drain in time", zap.Error(err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
