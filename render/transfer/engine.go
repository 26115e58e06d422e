package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/internal/ctxkeys"
	"github.com/BaSui01/renderflow/render/retry"
	"github.com/BaSui01/renderflow/types"
)

// Recorder receives one observation per download attempt.
type Recorder interface {
	RecordTransferAttempt(strategy string, bytes int64, err error, duration time.Duration)
}

// Job is the state of one download, owned by the engine for its lifetime.
type Job struct {
	Locator         string
	Destination     string
	Strategy        string
	AttemptsAllowed int
	CurrentAttempt  int
	BackoffDelay    time.Duration
}

// Engine retrieves remote assets, falling back across strategies.
// Attempts are strictly sequential.
type Engine struct {
	strategies []Strategy
	policy     retry.Policy
	sleep      retry.Sleeper
	recorder   Recorder
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategies overrides the configured strategies.
func WithStrategies(s ...Strategy) Option {
	return func(e *Engine) { e.strategies = s }
}

// WithSleeper replaces the backoff wait.
func WithSleeper(s retry.Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates an Engine from transfer and network settings.
func NewEngine(cfg config.TransferConfig, netCfg config.NetworkConfig, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		policy: retry.Policy{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialBackoff,
			MaxDelay:     cfg.MaxBackoff,
			Multiplier:   cfg.Multiplier,
		},
		logger: logger.With(zap.String("component", "transfer")),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.strategies == nil {
		s, err := NewStrategies(cfg, netCfg)
		if err != nil {
			return nil, err
		}
		e.strategies = s
	}
	if len(e.strategies) == 0 {
		return nil, errors.New("no transfer strategies configured")
	}
	return e, nil
}

// StrategyNames lists the configured strategies in fallback order.
func (e *Engine) StrategyNames() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// ValidateLocator accepts only absolute http(s) URLs.
func ValidateLocator(locator string) error {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return types.NewError(types.ErrProtocol, "malformed result locator").
			WithStage(types.StageTransfer).
			WithCause(err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return types.NewError(types.ErrProtocol, fmt.Sprintf("unsupported result locator scheme %q", u.Scheme)).
			WithStage(types.StageTransfer)
	}
	if u.Host == "" {
		return types.NewError(types.ErrProtocol, "result locator has no host").
			WithStage(types.StageTransfer)
	}
	return nil
}

// Download copies locator to dest and returns dest. Each strategy gets
// MaxAttempts tries with exponential backoff before the next one is used.
// The destination only ever appears complete: bytes land in dest+".part" and
// are renamed on success.
func (e *Engine) Download(ctx context.Context, locator, dest string) (string, error) {
	if err := ValidateLocator(locator); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil && !os.IsExist(err) {
		return "", types.NewError(types.ErrImageIO, "create destination directory").
			WithStage(types.StagePersist).
			WithCause(err)
	}

	logger := e.logger.With(ctxkeys.Fields(ctx)...)
	var lastErr error

	for _, s := range e.strategies {
		job := &Job{
			Locator:         locator,
			Destination:     dest,
			Strategy:        s.Name(),
			AttemptsAllowed: e.policy.MaxAttempts,
		}
		policy := e.policy
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			job.BackoffDelay = delay
			logger.Warn("download attempt failed, backing off",
				zap.String("strategy", job.Strategy),
				zap.Int("attempt", attempt-1),
				zap.Int("max_attempts", job.AttemptsAllowed),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
		r := retry.New(&policy, logger, retry.WithSleeper(e.sleep))
		effective := r.Policy()
		logger.Debug("trying transfer strategy",
			zap.String("strategy", job.Strategy),
			zap.Durations("backoff_schedule", effective.Schedule()))

		n, attempts, err := retry.DoTyped(ctx, r, func(ctx context.Context, attempt int) (int64, error) {
			job.CurrentAttempt = attempt
			return e.attempt(ctx, s, job)
		})
		if err == nil {
			logger.Info("asset downloaded",
				zap.String("strategy", job.Strategy),
				zap.Int("attempt", attempts),
				zap.Int64("bytes", n),
				zap.String("path", dest))
			return dest, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logger.Warn("transfer strategy exhausted", zap.String("strategy", job.Strategy), zap.Error(err))
	}

	names := e.StrategyNames()
	return "", types.NewError(types.ErrAssetUnavailable,
		"result could not be downloaded via "+strings.Join(names, ", ")).
		WithStage(types.StageTransfer).
		WithStrategies(names).
		WithCause(lastErr)
}

func (e *Engine) attempt(ctx context.Context, s Strategy, job *Job) (int64, error) {
	start := time.Now()
	part := job.Destination + ".part"

	n, err := s.Fetch(ctx, job.Locator, part)
	if err == nil {
		err = verifyNonEmpty(part, n)
	}
	if err == nil {
		err = os.Rename(part, job.Destination)
	}
	if err != nil {
		_ = os.Remove(part)
	}
	if e.recorder != nil {
		e.recorder.RecordTransferAttempt(job.Strategy, n, err, time.Since(start))
	}
	return n, err
}

func verifyNonEmpty(path string, n int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("downloaded file missing: %w", err)
	}
	if n == 0 || info.Size() == 0 {
		return errors.New("downloaded file is empty")
	}
	return nil
}
