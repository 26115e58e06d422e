package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/resty.v1"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/internal/nettransport"
	"github.com/BaSui01/renderflow/internal/pool"
)

// Strategy names.
const (
	StrategyHTTP   = "http"
	StrategyResty  = "resty"
	StrategyDirect = "direct"
)

// Strategy fetches one remote resource into a local file.
// Implementations must write the full body to dest and return the byte count.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, locator, dest string) (int64, error)
}

// StatusError is a non-success HTTP response seen during a fetch.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// httpStrategy streams with net/http.
type httpStrategy struct {
	name    string
	client  *http.Client
	headers map[string]string
	timeout time.Duration
}

func (s *httpStrategy) Name() string { return s.name }

func (s *httpStrategy) Fetch(ctx context.Context, locator, dest string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	buf := pool.CopyBufferPool.Get()
	defer pool.CopyBufferPool.Put(buf)

	n, err := io.CopyBuffer(f, resp.Body, *buf)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// restyStrategy uses a separate client stack and header set.
type restyStrategy struct {
	client *resty.Client
}

func (s *restyStrategy) Name() string { return StrategyResty }

func (s *restyStrategy) Fetch(ctx context.Context, locator, dest string) (int64, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(locator)
	if err != nil {
		return 0, err
	}
	if !resp.IsSuccess() {
		// resty writes the error body to the output file too
		_ = os.Remove(dest)
		return 0, &StatusError{StatusCode: resp.StatusCode()}
	}
	info, err := os.Stat(dest)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// NewStrategies builds the configured strategies in order.
func NewStrategies(cfg config.TransferConfig, netCfg config.NetworkConfig) ([]Strategy, error) {
	out := make([]Strategy, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		s, err := newStrategy(name, cfg, netCfg)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func newStrategy(name string, cfg config.TransferConfig, netCfg config.NetworkConfig) (Strategy, error) {
	switch name {
	case StrategyHTTP:
		tr, err := nettransport.SecureTransport(netCfg)
		if err != nil {
			return nil, err
		}
		return &httpStrategy{
			name:    StrategyHTTP,
			client:  &http.Client{Transport: tr},
			headers: map[string]string{"User-Agent": cfg.UserAgent},
			timeout: cfg.AttemptTimeout,
		}, nil

	case StrategyResty:
		tr, err := nettransport.SecureTransport(netCfg)
		if err != nil {
			return nil, err
		}
		client := resty.New().
			SetTransport(tr).
			SetTimeout(cfg.AttemptTimeout).
			SetHeader("User-Agent", cfg.UserAgent).
			SetHeader("Accept", "image/*")
		return &restyStrategy{client: client}, nil

	case StrategyDirect:
		tr, err := nettransport.IsolatedTransport(netCfg)
		if err != nil {
			return nil, err
		}
		return &httpStrategy{
			name:   StrategyDirect,
			client: &http.Client{Transport: tr},
			headers: map[string]string{
				"User-Agent": cfg.FallbackUserAgent,
				"Accept":     "image/avif,image/webp,image/*,*/*;q=0.8",
			},
			timeout: cfg.AttemptTimeout,
		}, nil

	default:
		return nil, fmt.Errorf("unknown transfer strategy %q", name)
	}
}
