package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/internal/guard"
	"github.com/BaSui01/renderflow/internal/history"
	"github.com/BaSui01/renderflow/internal/metrics"
	"github.com/BaSui01/renderflow/internal/server"
	"github.com/BaSui01/renderflow/internal/telemetry"
	"github.com/BaSui01/renderflow/render"
	"github.com/BaSui01/renderflow/render/factory"
	"github.com/BaSui01/renderflow/render/image"
)

// app 持有一次命令执行期间的全部共享组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers
	history   *history.Store
	guard     *guard.RedisGuard
	metrics   *server.Manager
}

type bootstrapOptions struct {
	configPath string
	verbose    bool
	// withHistory 为 false 时不打开历史库（check/version 不需要）
	withHistory bool
	// withRuntime 启动 telemetry、指标端点与跨进程锁
	withRuntime bool
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func bootstrap(opts bootstrapOptions) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Log.Verbose = true
	}

	a := &app{cfg: cfg, logger: initLogger(cfg.Log)}
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, a.logger)

	if opts.withHistory && cfg.History.Enabled {
		store, err := history.Open(cfg.History, a.logger)
		if err != nil {
			a.logger.Warn("render history unavailable", zap.Error(err))
		} else {
			a.history = store
		}
	}

	if !opts.withRuntime {
		return a, nil
	}

	a.otel, err = telemetry.Init(cfg.Telemetry, a.logger,
		attribute.String("renderflow.default_provider", cfg.Render.Provider))
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	if cfg.Guard.Enabled {
		g, err := guard.NewRedisGuard(cfg.Guard, a.logger)
		if err != nil {
			a.logger.Warn("render lock unavailable, continuing with in-process guard only", zap.Error(err))
		} else {
			g.StartHealthCheck(cfg.Guard.HealthCheckInterval)
			a.guard = g
		}
	}

	if cfg.Metrics.ListenAddr != "" {
		a.metrics = server.NewManager(server.NewHandler(a.registry, a.healthChecks(), a.logger),
			server.ConfigFromMetrics(cfg.Metrics), a.logger)
		if err := a.metrics.Start(); err != nil {
			a.logger.Warn("metrics endpoint unavailable", zap.Error(err))
			a.metrics = nil
		}
	}

	return a, nil
}

func (a *app) healthChecks() map[string]server.Check {
	checks := map[string]server.Check{}
	if a.history != nil {
		checks["history"] = a.history.Ping
	}
	if a.guard != nil {
		checks["guard"] = a.guard.Ping
	}
	return checks
}

func (a *app) provider(name string) (image.Provider, error) {
	if name == "" {
		name = a.cfg.Render.Provider
	}
	return factory.NewProviderByName(name, a.cfg, factory.Deps{
		Logger:    a.logger,
		Collector: a.collector,
	})
}

func (a *app) session(p image.Provider) *render.Session {
	opts := []render.SessionOption{
		render.WithSessionLogger(a.logger),
		render.WithCollector(a.collector),
		render.WithTracer(a.otel.Tracer()),
	}
	if a.history != nil {
		opts = append(opts, render.WithHistory(a.history))
	}
	if a.guard != nil {
		opts = append(opts, render.WithGuard(a.guard))
	}
	return render.NewSession(p, a.cfg.Render, opts...)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics endpoint shutdown failed", zap.Error(err))
		}
	}
	if a.guard != nil {
		if err := a.guard.Close(); err != nil {
			a.logger.Warn("render lock close failed", zap.Error(err))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("render history close failed", zap.Error(err))
		}
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
