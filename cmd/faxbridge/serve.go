package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/archive"
	"github.com/arzzra/faxbridge/pkg/bridge"
	"github.com/arzzra/faxbridge/pkg/config"
	"github.com/arzzra/faxbridge/pkg/engine"
	"github.com/arzzra/faxbridge/pkg/engine/ipc"
	"github.com/arzzra/faxbridge/pkg/logging"
	"github.com/arzzra/faxbridge/pkg/sipfax"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Принимать SIP вызовы и запускать на них сессии факса",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Путь к YAML конфигурации",
				EnvVars: []string{"FAXBRIDGE_CONFIG"},
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer func() { _ = logger.Sync() }()

	factory, err := engineFactory(cfg.Engine, logger)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []sipfax.Option{sipfax.WithLogger(logger)}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, sipfax.WithMetrics(bridge.NewMetrics(reg)))

		srv := serveMetrics(cfg.Metrics.ListenAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Archive.Enabled {
		uploader, err := archive.NewS3Uploader(ctx, cfg.Archive, logger)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		opts = append(opts, sipfax.WithArchive(uploader))
	}

	server, err := sipfax.NewServer(cfg, factory, opts...)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	logger.Info("faxbridge запущен",
		zap.String("version", version),
		zap.String("engine", cfg.Engine.Name))

	if err := server.Serve(ctx); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger.Info("faxbridge остановлен")
	return nil
}

// engineFactory регистрирует встроенные движки и выбирает нужный по имени
func engineFactory(cfg config.EngineConfig, logger *zap.Logger) (engine.Factory, error) {
	if cfg.Name == config.DefaultEngine {
		if cfg.Command == "" {
			return nil, errors.New("не задана команда движка (engine.command)")
		}
		engine.Register(config.DefaultEngine, ipc.NewCommandFactory(cfg.Command, cfg.Args, cfg.Timeout, logger.Named("engine")))
	}
	factory, err := engine.Lookup(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("движок %q: %w", cfg.Name, err)
	}
	return factory, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ошибка сервера метрик", zap.Error(err))
		}
	}()
	logger.Info("метрики доступны", zap.String("address", addr))
	return srv
}
