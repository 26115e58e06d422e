package render

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/internal/ctxkeys"
	"github.com/BaSui01/renderflow/internal/guard"
	"github.com/BaSui01/renderflow/internal/history"
	"github.com/BaSui01/renderflow/internal/metrics"
	"github.com/BaSui01/renderflow/render/condition"
	"github.com/BaSui01/renderflow/render/image"
	"github.com/BaSui01/renderflow/types"
)

// HistoryRecorder persists finished renders.
type HistoryRecorder interface {
	Record(ctx context.Context, e *history.Entry) error
}

// Guard is a lock shared with other processes.
type Guard interface {
	TryAcquire(ctx context.Context, holder string) (guard.Release, bool, error)
	// Holder returns the current lock token, or "" when the lock is free.
	Holder(ctx context.Context) (string, error)
}

// Outcome is a finished render.
type Outcome struct {
	RequestID string
	Result    *image.Result
	// SubmittedPath is the image actually uploaded, after any conditioning.
	SubmittedPath string
	// Notes holds one line per conditioning correction, for user feedback.
	Notes    []string
	Attempts int
	Duration time.Duration
}

// Session runs at most one render at a time.
type Session struct {
	provider    image.Provider
	conditioner *condition.Conditioner
	cfg         config.RenderConfig
	sem         *semaphore.Weighted
	logger      *zap.Logger
	collector   *metrics.Collector
	history     HistoryRecorder
	guard       Guard
	tracer      trace.Tracer
	holder      string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithCollector attaches Prometheus metrics.
func WithCollector(c *metrics.Collector) SessionOption {
	return func(s *Session) { s.collector = c }
}

// WithHistory records every finished render.
func WithHistory(h HistoryRecorder) SessionOption {
	return func(s *Session) { s.history = h }
}

// WithGuard adds a cross-process lock on top of the in-process one.
func WithGuard(g Guard) SessionOption {
	return func(s *Session) { s.guard = g }
}

// WithTracer sets the tracer used for render spans.
func WithTracer(t trace.Tracer) SessionOption {
	return func(s *Session) { s.tracer = t }
}

// NewSession creates a Session rendering with provider.
func NewSession(provider image.Provider, cfg config.RenderConfig, opts ...SessionOption) *Session {
	s := &Session{
		provider: provider,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/BaSui01/renderflow")
	}
	s.logger = s.logger.With(zap.String("component", "session"))
	s.conditioner = condition.New(s.logger)
	s.holder, _ = os.Hostname()
	return s
}

// Provider returns the provider this session renders with.
func (s *Session) Provider() image.Provider { return s.provider }

// Busy reports whether a render is in flight in this process.
func (s *Session) Busy() bool {
	if !s.sem.TryAcquire(1) {
		return true
	}
	s.sem.Release(1)
	return false
}

// lockOwner names the process holding the shared lock, without its token suffix.
func (s *Session) lockOwner(ctx context.Context) string {
	token, err := s.guard.Holder(ctx)
	if err != nil {
		s.logger.Debug("failed to read render lock holder", zap.Error(err))
		return ""
	}
	if i := strings.LastIndex(token, "/"); i > 0 {
		return token[:i]
	}
	return token
}

// Render conditions the source image if the provider needs it, generates, and
// on a constraint rejection re-conditions to the reported bounds and retries
// once. A second call while one is in flight fails fast with BUSY; the slot is
// released on every exit path.
func (s *Session) Render(ctx context.Context, req *types.GenerationRequest) (*Outcome, error) {
	if !s.sem.TryAcquire(1) {
		s.collector.RecordBusyRejection()
		return nil, types.NewError(types.ErrBusy, "render already in progress").WithProvider(s.provider.Name())
	}
	defer s.sem.Release(1)

	if s.guard != nil {
		release, ok, err := s.guard.TryAcquire(ctx, s.holder)
		if err != nil {
			return nil, types.NewError(types.ErrBusy, "render lock unavailable").
				WithProvider(s.provider.Name()).
				WithCause(err)
		}
		if !ok {
			s.collector.RecordBusyRejection()
			busy := types.NewError(types.ErrBusy, "render already in progress in another process").
				WithProvider(s.provider.Name())
			if owner := s.lockOwner(ctx); owner != "" {
				busy.WithPayload("held by " + owner)
			}
			return nil, busy
		}
		defer release()
	}

	if req != nil && strings.TrimSpace(req.Prompt) == "" && s.cfg.DefaultPrompt != "" {
		req = req.WithSource(req.SourceImagePath)
		req.Prompt = s.cfg.DefaultPrompt
	}
	if err := req.Validate(); err != nil {
		if te, ok := types.AsError(err); ok {
			te.WithProvider(s.provider.Name())
		}
		return nil, err
	}

	id := uuid.NewString()
	ctx = ctxkeys.WithRequestID(ctx, id)
	ctx = ctxkeys.WithProvider(ctx, s.provider.Name())
	logger := s.logger.With(ctxkeys.Fields(ctx)...)

	ctx, span := s.tracer.Start(ctx, "render", trace.WithAttributes(
		attribute.String("render.request_id", id),
		attribute.String("render.provider", s.provider.Name()),
		attribute.Int("render.references", len(req.ReferenceImagePaths)),
	))
	defer span.End()

	done := s.collector.RenderStarted()
	defer done()

	start := time.Now()
	out := &Outcome{RequestID: id, SubmittedPath: req.SourceImagePath}
	logger.Info("render started", zap.String("source", req.SourceImagePath))

	cons := s.provider.Constraints()
	if s.cfg.AutoCondition && !cons.IsZero() {
		out.SubmittedPath, out.Notes = s.condition(ctx, req.SourceImagePath, cons)
	}

	res, err := s.generate(ctx, req.WithSource(out.SubmittedPath))
	out.Attempts = 1

	var te *types.Error
	if errors.As(err, &te) && te.Code == types.ErrConstraintViolation && te.Constraint != nil {
		retryCons := condition.Constraints{
			MinAspect: te.Constraint.MinAspect,
			MaxAspect: te.Constraint.MaxAspect,
			MaxPixels: te.Constraint.MaxPixels,
		}
		if retryCons.MaxPixels == 0 {
			retryCons.MaxPixels = cons.MaxPixels
		}
		logger.Warn("provider rejected image geometry, re-conditioning",
			zap.String("constraint", te.Constraint.String()))

		path, notes := s.condition(ctx, out.SubmittedPath, retryCons)
		if len(notes) > 0 {
			out.SubmittedPath = path
			out.Notes = append(out.Notes, notes...)
			res, err = s.generate(ctx, req.WithSource(path))
			out.Attempts = 2
		}
	}

	out.Duration = time.Since(start)
	out.Result = res
	s.collector.RecordRender(s.provider.Name(), err, out.Duration)
	s.record(ctx, req, out, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		logger.Error("render failed", zap.Duration("duration", out.Duration), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("render.result", res.Path))
	logger.Info("render finished",
		zap.String("result", res.Path),
		zap.Int("attempts", out.Attempts),
		zap.Duration("duration", out.Duration))
	return out, nil
}

// condition never fails the render: a conditioning error is logged and the
// original path submitted.
func (s *Session) condition(ctx context.Context, path string, cons condition.Constraints) (string, []string) {
	_, span := s.tracer.Start(ctx, "condition")
	defer span.End()

	res, err := s.conditioner.Condition(path, cons)
	if err != nil {
		span.RecordError(err)
		s.collector.RecordConditioning("failed")
		s.logger.With(ctxkeys.Fields(ctx)...).Warn("conditioning failed, submitting original image", zap.Error(err))
		return path, nil
	}
	if !res.Changed() {
		s.collector.RecordConditioning("unchanged")
		return res.Path, nil
	}
	s.collector.RecordConditioning("corrected")
	span.SetAttributes(
		attribute.String("condition.output", res.Path),
		attribute.Int("condition.width", res.Width),
		attribute.Int("condition.height", res.Height),
	)
	return res.Path, res.Notes
}

func (s *Session) generate(ctx context.Context, req *types.GenerationRequest) (*image.Result, error) {
	ctx, span := s.tracer.Start(ctx, "generate", trace.WithAttributes(
		attribute.String("render.source", req.SourceImagePath),
	))
	defer span.End()

	res, err := s.provider.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Session) record(ctx context.Context, req *types.GenerationRequest, out *Outcome, err error) {
	if s.history == nil {
		return
	}
	e := &history.Entry{
		ID:         out.RequestID,
		Provider:   s.provider.Name(),
		Prompt:     req.Prompt,
		SourcePath: req.SourceImagePath,
		Attempts:   out.Attempts,
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.SubmittedPath != req.SourceImagePath {
		e.ConditionedPath = out.SubmittedPath
	}
	if out.Result != nil {
		e.ResultPath = out.Result.Path
		e.Seed = out.Result.Seed
		e.FinishReason = out.Result.FinishReason
		e.JobID = out.Result.JobID
	}
	if err != nil {
		e.ErrorCode = string(types.GetErrorCode(err))
		if e.ErrorCode == "" {
			e.ErrorCode = "UNKNOWN"
		}
		e.ErrorMessage = err.Error()
	}
	// 渲染已结束，历史写入不受调用方取消影响
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if herr := s.history.Record(hctx, e); herr != nil {
		s.logger.Warn("failed to record render history", zap.String("request_id", out.RequestID), zap.Error(herr))
	}
}
