// Package factory maps a provider Kind to its constructor. It is the only
// place that knows every concrete provider, so callers depend on the
// image.Provider interface alone.
package factory

import (
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/internal/metrics"
	"github.com/BaSui01/renderflow/render/image"
	"github.com/BaSui01/renderflow/render/transfer"
	"github.com/BaSui01/renderflow/types"
)

// Deps are the shared collaborators handed to every provider.
type Deps struct {
	Logger    *zap.Logger
	Collector *metrics.Collector
	// Options are appended after the ones derived from configuration.
	Options []image.Option
}

// NewProvider creates the provider for kind from cfg.
//
// Supported kinds: structure, queued, edit.
func NewProvider(kind image.Kind, cfg *config.Config, deps Deps) (image.Provider, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	opts := []image.Option{
		image.WithLogger(deps.Logger),
		image.WithNetwork(cfg.Network),
	}
	if cfg.Render.ResultsDir != "" {
		opts = append(opts, image.WithResultsDir(cfg.Render.ResultsDir))
	}
	if deps.Collector != nil {
		opts = append(opts, image.WithRecorder(deps.Collector))
	}
	opts = append(opts, deps.Options...)

	switch kind {
	case image.KindStructure:
		if err := requireKey(kind, cfg.Structure.APIKey); err != nil {
			return nil, err
		}
		return image.NewStructureProvider(cfg.Structure, opts...)

	case image.KindQueued:
		if err := requireKey(kind, cfg.Queued.APIKey); err != nil {
			return nil, err
		}
		var topts []transfer.Option
		if deps.Collector != nil {
			topts = append(topts, transfer.WithRecorder(deps.Collector))
		}
		engine, err := transfer.NewEngine(cfg.Transfer, cfg.Network, deps.Logger, topts...)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "invalid transfer configuration").
				WithProvider(string(kind)).
				WithCause(err)
		}
		return image.NewQueuedProvider(cfg.Queued, opts, image.WithDownloader(engine))

	case image.KindEdit:
		if err := requireKey(kind, cfg.Edit.APIKey); err != nil {
			return nil, err
		}
		return image.NewEditProvider(cfg.Edit, opts...)

	default:
		return nil, types.NewError(types.ErrUnsupportedProvider, "unknown provider "+string(kind))
	}
}

// NewProviderByName parses name and creates the provider.
func NewProviderByName(name string, cfg *config.Config, deps Deps) (image.Provider, error) {
	kind, err := image.ParseKind(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return nil, err
	}
	return NewProvider(kind, cfg, deps)
}

func requireKey(kind image.Kind, key string) error {
	if types.Credential(strings.TrimSpace(key)).Empty() {
		return types.NewError(types.ErrInvalidRequest, "API key is not configured").
			WithProvider(string(kind))
	}
	return nil
}
