// Package renderflow provides a top-level convenience entry point for creating
// a render session with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/renderflow"
//
//	s, err := renderflow.New(cfg)
//	s, err := renderflow.New(cfg, renderflow.WithProvider("edit"), renderflow.WithLogger(logger))
//	out, err := s.Render(ctx, &types.GenerationRequest{SourceImagePath: "view.png"})
//
// This is a thin wrapper around [factory.NewProviderByName] and
// [render.NewSession]; the CLI wires the same pieces plus history, metrics
// and the cross-process guard.
package renderflow

import (
	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/internal/metrics"
	"github.com/BaSui01/renderflow/render"
	"github.com/BaSui01/renderflow/render/factory"
)

type options struct {
	provider  string
	logger    *zap.Logger
	collector *metrics.Collector
	session   []render.SessionOption
}

// Option configures the session created by [New].
type Option func(*options)

// WithProvider overrides cfg.Render.Provider.
func WithProvider(name string) Option {
	return func(o *options) { o.provider = name }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCollector records provider, transfer and render metrics into c.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithSessionOptions appends options passed to [render.NewSession].
func WithSessionOptions(opts ...render.SessionOption) Option {
	return func(o *options) { o.session = append(o.session, opts...) }
}

// New creates a [render.Session] for the configured provider. A nil cfg
// uses [config.DefaultConfig].
func New(cfg *config.Config, opts ...Option) (*render.Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.provider == "" {
		o.provider = cfg.Render.Provider
	}

	p, err := factory.NewProviderByName(o.provider, cfg, factory.Deps{Logger: o.logger, Collector: o.collector})
	if err != nil {
		return nil, err
	}

	sopts := []render.SessionOption{render.WithSessionLogger(o.logger)}
	if o.collector != nil {
		sopts = append(sopts, render.WithCollector(o.collector))
	}
	sopts = append(sopts, o.session...)
	return render.NewSession(p, cfg.Render, sopts...), nil
}
