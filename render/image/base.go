package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/internal/ctxkeys"
	"github.com/BaSui01/renderflow/internal/nettransport"
	"github.com/BaSui01/renderflow/internal/pool"
	"github.com/BaSui01/renderflow/types"
)

// logBodyLimit caps response bodies written to debug logs.
const logBodyLimit = 500

// errorBodyLimit caps error payloads read into memory.
const errorBodyLimit = 1 << 20

// options holds the settings shared by every provider.
type options struct {
	client     *http.Client
	network    config.NetworkConfig
	logger     *zap.Logger
	recorder   Recorder
	resultsDir string
	now        func() time.Time
}

// Option configures a provider.
type Option func(*options)

// WithHTTPClient replaces the HTTP client. The client's own timeout applies.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithNetwork sets the proxy configuration used when no client is supplied.
func WithNetwork(n config.NetworkConfig) Option {
	return func(o *options) { o.network = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithResultsDir sets the root results directory.
func WithResultsDir(dir string) Option {
	return func(o *options) { o.resultsDir = dir }
}

// WithClock overrides time.Now for result naming.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// base is the shared HTTP and persistence plumbing embedded by providers.
type base struct {
	name       string
	apiKey     types.Credential
	timeout    time.Duration
	client     *http.Client
	logger     *zap.Logger
	recorder   Recorder
	resultsDir string
	now        func() time.Time
}

func newBase(name string, apiKey string, timeout time.Duration, opts []Option) (*base, error) {
	o := &options{
		resultsDir: filepath.Join(config.DataDir(), "Results"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.client == nil {
		c, err := nettransport.SecureHTTPClient(o.network, timeout)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "invalid network configuration").
				WithProvider(name).
				WithCause(err)
		}
		o.client = c
	}
	return &base{
		name:       name,
		apiKey:     types.Credential(apiKey),
		timeout:    timeout,
		client:     o.client,
		logger:     o.logger.With(zap.String("component", "provider")),
		recorder:   o.recorder,
		resultsDir: o.resultsDir,
		now:        o.now,
	}, nil
}

func (b *base) Name() string { return b.name }

func (b *base) log(ctx context.Context) *zap.Logger {
	if _, ok := ctxkeys.Provider(ctx); !ok {
		ctx = ctxkeys.WithProvider(ctx, b.name)
	}
	return b.logger.With(ctxkeys.Fields(ctx)...)
}

// do sends req and classifies transport failures. A returned error is always
// a *types.Error; a nil error means a response was received, whatever its status.
func (b *base) do(ctx context.Context, stage types.Stage, req *http.Request) (*http.Response, error) {
	logger := b.log(ctx)
	logger.Debug("sending request",
		zap.String("stage", string(stage)),
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.String("credential", b.apiKey.Masked()),
		zap.String("content_type", req.Header.Get("Content-Type")))

	start := time.Now()
	resp, err := b.client.Do(req)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if b.recorder != nil {
		b.recorder.RecordProviderRequest(b.name, stage, status, elapsed)
	}

	if err != nil {
		logger.Warn("request failed", zap.String("stage", string(stage)), zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, b.transportError(stage, err)
	}
	logger.Debug("received response",
		zap.String("stage", string(stage)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))
	return resp, nil
}

// transportError distinguishes timeouts from other no-response failures.
func (b *base) transportError(stage types.Stage, err error) *types.Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return types.NewError(types.ErrTimeout, fmt.Sprintf(
			"no response within %s; try a smaller source image or raise the configured timeout", b.timeout)).
			WithProvider(b.name).
			WithStage(stage).
			WithRetryable(true).
			WithCause(err)
	}
	return types.NewError(types.ErrNetwork, "no response received; check network connectivity and proxy settings").
		WithProvider(b.name).
		WithStage(stage).
		WithRetryable(true).
		WithCause(err)
}

// readErrorBody captures the full provider error payload.
func (b *base) readErrorBody(ctx context.Context, resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	body := strings.TrimSpace(string(data))
	b.log(ctx).Debug("error response", zap.Int("status", resp.StatusCode), zap.String("body", truncate(body, logBodyLimit)))
	return body
}

// providerError wraps a non-success response.
func (b *base) providerError(stage types.Stage, status int, message, payload string) *types.Error {
	if message == "" {
		message = fmt.Sprintf("request rejected with status %d", status)
	}
	return types.NewError(types.ErrProvider, message).
		WithProvider(b.name).
		WithStage(stage).
		WithHTTPStatus(status).
		WithPayload(payload)
}

// persist streams r into a new result_<timestamp>.<ext> file under the
// provider directory.
func (b *base) persist(ctx context.Context, r io.Reader, ext string) (string, int64, error) {
	f, path, err := b.createResultFile(ext)
	if err != nil {
		return "", 0, err
	}

	buf := pool.CopyBufferPool.Get()
	defer pool.CopyBufferPool.Put(buf)

	n, err := io.CopyBuffer(f, r, *buf)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errors.New("provider returned an empty image")
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, types.NewError(types.ErrImageIO, "write result file").
			WithProvider(b.name).
			WithStage(types.StagePersist).
			WithCause(err)
	}
	b.log(ctx).Info("result saved", zap.String("path", path), zap.Int64("bytes", n))
	return path, n, nil
}

// reserveResultPath picks an unused result name for writers that create the
// file themselves, such as the transfer engine.
func (b *base) reserveResultPath(ext string) (string, error) {
	f, path, err := b.createResultFile(ext)
	if err != nil {
		return "", err
	}
	_ = f.Close()
	_ = os.Remove(path)
	return path, nil
}

func (b *base) createResultFile(ext string) (*os.File, string, error) {
	dir := filepath.Join(b.resultsDir, b.name)
	if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return nil, "", types.NewError(types.ErrImageIO, "create results directory").
			WithProvider(b.name).
			WithStage(types.StagePersist).
			WithCause(err)
	}

	stem := ResultName(b.now())
	for i := 0; i < 100; i++ {
		name := stem
		if i > 0 {
			name = fmt.Sprintf("%s_%d", stem, i)
		}
		path := filepath.Join(dir, name+"."+ext)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", types.NewError(types.ErrImageIO, "create result file").
				WithProvider(b.name).
				WithStage(types.StagePersist).
				WithCause(err)
		}
	}
	return nil, "", types.NewError(types.ErrImageIO, "no free result file name for "+stem).
		WithProvider(b.name).
		WithStage(types.StagePersist)
}

// ResultName is the timestamped stem shared by all providers, without extension.
func ResultName(t time.Time) string {
	return fmt.Sprintf("result_%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}

// outputFormat resolves the request format against a provider default.
func outputFormat(req *types.GenerationRequest, def string) types.OutputFormat {
	if req.OutputFormat != "" {
		if f, err := types.ParseOutputFormat(string(req.OutputFormat)); err == nil {
			return f
		}
	}
	if f, err := types.ParseOutputFormat(def); err == nil {
		return f
	}
	return types.OutputPNG
}

// imageMIME maps a file extension to the content type sent for it.
func imageMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
