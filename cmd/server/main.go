package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robolab/roverhub/internal/config"
	"github.com/robolab/roverhub/internal/logging"
	"github.com/robolab/roverhub/pkg/bus"
	"github.com/robolab/roverhub/pkg/gateway"
	"github.com/robolab/roverhub/pkg/metrics"
	"github.com/robolab/roverhub/pkg/registry"
	"github.com/robolab/roverhub/pkg/stats"
)

func main() {
	configPath := flag.String("config", "", "path to config file (json or yaml)")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	b := bus.New(bus.Options{
		HistorySize: cfg.Bus.HistorySize,
		QueueSize:   cfg.Bus.SubscriberQueueSize,
		Logger:      logger,
		Metrics:     m,
	})
	defer b.Close()

	reg := registry.New(registry.Options{
		WarningAfter: cfg.Registry.WarningAfter,
		DownAfter:    cfg.Registry.DownAfter,
		Logger:       logger,
	})

	prober := registry.NewProber(reg, registry.ProberOptions{
		Interval: cfg.Registry.ProbeInterval,
		Timeout:  cfg.Registry.ProbeTimeout,
		Logger:   logger,
	})
	prober.Start(ctx)
	defer prober.Stop()

	aggregator := stats.New(b, reg, stats.Options{
		RefreshInterval: cfg.Stats.RefreshInterval,
		Logger:          logger,
	})
	aggregator.Start(ctx)
	defer aggregator.Stop()

	gw := gateway.New(b, reg, aggregator, gateway.Options{
		Logger:  logger,
		Metrics: m,
	})

	sio := gateway.NewSocketIOServer(gw)
	go func() {
		if err := sio.Serve(); err != nil {
			logger.Error("socketio serve error", "error", err)
		}
	}()
	defer sio.Close()

	apiRouter := gateway.NewAPIServer(gw).Router()
	apiRouter.Handle("/socket.io/", sio)

	wsOptions := gateway.DefaultWSConnOptions()
	wsOptions.ReadTimeout = cfg.Server.ReadTimeout
	wsOptions.WriteTimeout = cfg.Server.WriteTimeout
	wsOptions.MaxMessageSize = cfg.Server.MaxMessageSize

	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      apiRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	wsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WSPort),
		Handler: gateway.NewWSServer(gw, wsOptions).Router(),
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http api listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		logger.Info("websocket listening", "addr", wsServer.Addr)
		if err := wsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown error", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket shutdown error", "error", err)
	}

	return nil
}
