// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ManuGH/pstnbridge/internal/config"
	controlhttp "github.com/ManuGH/pstnbridge/internal/control/http"
	"github.com/ManuGH/pstnbridge/internal/control/middleware"
	"github.com/ManuGH/pstnbridge/internal/daemon"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/legs"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/manager"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/store"
	"github.com/ManuGH/pstnbridge/internal/health"
	xglog "github.com/ManuGH/pstnbridge/internal/log"
	"github.com/ManuGH/pstnbridge/internal/telemetry"
	"github.com/ManuGH/pstnbridge/internal/version"
	"github.com/ManuGH/pstnbridge/internal/vonage"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// safe defaults until the configuration is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "pstnbridge",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", configPath).
			Msg("failed to load configuration")
		return err
	}

	xglog.Configure(xglog.Config{
		Level:      cfg.Log.Level,
		Service:    cfg.Telemetry.ServiceName,
		Version:    version.Version,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	logger = xglog.WithComponent("daemon")
	logger.Info().
		Str("event", "config.loaded").
		Str("path", configPath).
		Strs("env_keys", loader.ConsumedEnvKeys()).
		Str("version", version.String()).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
		return err
	}

	var hooks []hook
	fail := func(err error) error {
		runHooks(context.WithoutCancel(ctx), hooks)
		return err
	}
	hooks = append(hooks, hook{"log", func(context.Context) error { return xglog.Close() }})

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fail(fmt.Errorf("telemetry: %w", err))
	}
	hooks = append(hooks, hook{"telemetry", tp.Shutdown})

	key, err := vonage.LoadPrivateKey(cfg.Vonage.PrivateKeyPath)
	if err != nil {
		return fail(err)
	}
	tokens, err := vonage.NewAppTokenSource(cfg.Vonage.AppID, key, 0)
	if err != nil {
		return fail(err)
	}
	client := vonage.New(cfg.Vonage.APIBaseURL(), tokens, vonage.Options{
		Timeout:           cfg.Vonage.Timeout,
		RequestsPerSecond: cfg.Vonage.RequestsPerSecond,
		Burst:             cfg.Vonage.Burst,
		BreakerThreshold:  cfg.Vonage.BreakerThreshold,
		BreakerReset:      cfg.Vonage.BreakerReset,
	})

	controller := legs.NewController(client, legs.Config{
		PublicBaseURL: cfg.Bridge.PublicBaseURL,
		ProcessorHost: cfg.Bridge.ProcessorServer,
		ServiceNumber: cfg.Bridge.ServiceNumber,
	})

	st, err := store.OpenStateStore(store.Options{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Redis: store.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			TTL:      cfg.Store.TTL,
		},
	})
	if err != nil {
		return fail(err)
	}
	hooks = append(hooks, hook{"store", func(context.Context) error { return st.Close() }})

	orch := manager.New(st, controller, manager.Config{
		EvictionGrace: cfg.Bridge.EvictionGrace,
		EffectTimeout: cfg.Bridge.EffectTimeout,
	})
	recovered, err := orch.Recover(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("event", "orchestrator.recover_failed").Msg("session recovery incomplete")
	} else if recovered > 0 {
		logger.Info().Int("sessions", recovered).Str("event", "orchestrator.recovered").Msg("recovered persisted sessions")
	}

	watcher := config.NewWatcher(cfg, loader)
	hooks = append(hooks, hook{"config_watcher", func(context.Context) error {
		watcher.Stop()
		return nil
	}})
	// drains in-flight callback work before the store closes
	hooks = append(hooks, hook{"orchestrator", orch.Shutdown})

	hm := health.NewManager(version.Version)
	if p, ok := st.(store.Pinger); ok {
		hm.RegisterChecker(health.NewPingChecker("store", p.Ping))
	}
	breaker := client.Breaker()
	hm.RegisterChecker(health.NewBreakerChecker("vonage_api", func() string { return breaker.State().String() }))
	hm.RegisterChecker(health.NewFileChecker("private_key", cfg.Vonage.PrivateKeyPath))

	var inlineMetrics http.Handler
	if cfg.Server.MetricsAddr == "" {
		inlineMetrics = promhttp.Handler()
	}
	handler := controlhttp.NewHandler(orch, watcher, st)
	router := controlhttp.NewRouter(handler, controlhttp.RouterOptions{
		Stack: middleware.StackConfig{
			EnableMetrics:  true,
			TracingService: tracingService(cfg),
			EnableLogging:  true,
		},
		StartRateLimit: cfg.Server.StartRateLimit,
		Health:         hm,
		Metrics:        inlineMetrics,
		Debug:          cfg.Server.Debug,
	})

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{
		Logger:         logger,
		APIHandler:     router,
		MetricsHandler: promhttp.Handler(),
		MetricsAddr:    cfg.Server.MetricsAddr,
	})
	if err != nil {
		return fail(err)
	}
	for _, h := range hooks {
		mgr.RegisterShutdownHook(h.name, h.fn)
	}

	logger.Info().
		Str("event", "bridge.ready").
		Str(xglog.FieldBaseURL, cfg.Bridge.PublicBaseURL).
		Str("store_backend", cfg.Store.Backend).
		Msg("bridge service starting")

	return daemon.NewApp(logger, mgr, watcher).Run(ctx)
}

func tracingService(cfg config.AppConfig) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.Telemetry.ServiceName
}

type hook struct {
	name string
	fn   daemon.ShutdownHook
}

// runHooks releases what was opened before startup failed, newest first.
func runHooks(ctx context.Context, hooks []hook) {
	for i := len(hooks) - 1; i >= 0; i-- {
		_ = hooks[i].fn(ctx)
	}
}
