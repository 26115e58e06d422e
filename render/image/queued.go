package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/render/condition"
	"github.com/BaSui01/renderflow/render/retry"
	"github.com/BaSui01/renderflow/render/transfer"
	"github.com/BaSui01/renderflow/types"
)

// Job statuses reported by the queue.
const (
	JobPending    = "PENDING"
	JobInQueue    = "IN_QUEUE"
	JobInProgress = "IN_PROGRESS"
	JobCompleted  = "COMPLETED"
	JobFailed     = "FAILED"
)

// Downloader materializes a remote result locally.
type Downloader interface {
	Download(ctx context.Context, locator, dest string) (string, error)
}

// QueuedProvider implements queue-and-poll generation against fal.ai.
// API Docs: https://docs.fal.ai/model-endpoints/queue
type QueuedProvider struct {
	*base
	cfg        config.QueuedConfig
	downloader Downloader
	sleep      retry.Sleeper
	poll       retry.Policy
}

// QueuedOption configures queue-specific behavior.
type QueuedOption func(*QueuedProvider)

// WithDownloader sets the transfer engine used for result URLs.
func WithDownloader(d Downloader) QueuedOption {
	return func(p *QueuedProvider) { p.downloader = d }
}

// WithPollSleeper replaces the wait between status queries.
func WithPollSleeper(s retry.Sleeper) QueuedOption {
	return func(p *QueuedProvider) { p.sleep = s }
}

// NewQueuedProvider creates a queued provider. Without WithDownloader it
// builds a transfer engine from the default transfer settings.
func NewQueuedProvider(cfg config.QueuedConfig, opts []Option, qopts ...QueuedOption) (*QueuedProvider, error) {
	def := config.DefaultQueuedConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = def.OutputFormat
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Poll == (config.PollConfig{}) {
		cfg.Poll = def.Poll
	}
	if cfg.CheckURL == "" {
		cfg.CheckURL = def.CheckURL
	}

	b, err := newBase(string(KindQueued), cfg.APIKey, cfg.Timeout, opts)
	if err != nil {
		return nil, err
	}
	p := &QueuedProvider{
		base:  b,
		cfg:   cfg,
		sleep: retry.SleepContext,
		poll: retry.Policy{
			MaxAttempts:  cfg.Poll.MaxRounds,
			InitialDelay: cfg.Poll.InitialDelay,
			MaxDelay:     cfg.Poll.MaxDelay,
			Multiplier:   2.0,
		},
	}
	for _, opt := range qopts {
		opt(p)
	}
	if p.downloader == nil {
		e, err := transfer.NewEngine(config.DefaultTransferConfig(), config.DefaultNetworkConfig(), b.logger)
		if err != nil {
			return nil, err
		}
		p.downloader = e
	}
	return p, nil
}

func (p *QueuedProvider) Kind() Kind { return KindQueued }

func (p *QueuedProvider) Constraints() condition.Constraints { return condition.Constraints{} }

type queuedSubmitRequest struct {
	Prompt              string  `json:"prompt"`
	ImageURL            string  `json:"image_url"`
	ControlLoraImageURL string  `json:"control_lora_image_url"`
	Strength            float64 `json:"strength"`
	NumInferenceSteps   int     `json:"num_inference_steps"`
	GuidanceScale       float64 `json:"guidance_scale"`
	SyncMode            bool    `json:"sync_mode"`
	NumImages           int     `json:"num_images"`
	OutputFormat        string  `json:"output_format"`
	ControlLoraStrength float64 `json:"control_lora_strength"`
	EnableSafetyChecker bool    `json:"enable_safety_checker"`
}

type queuedImage struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

type queuedSubmitResponse struct {
	RequestID   string        `json:"request_id"`
	StatusURL   string        `json:"status_url,omitempty"`
	ResponseURL string        `json:"response_url,omitempty"`
	Images      []queuedImage `json:"images,omitempty"`
}

type queuedStatusResponse struct {
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	QueuePosition *int   `json:"queue_position,omitempty"`
}

type queuedResultResponse struct {
	Images []queuedImage `json:"images"`
	Seed   json.Number   `json:"seed,omitempty"`
}

// PollableJob tracks one queued submission until it reaches a terminal state.
type PollableJob struct {
	ID        string
	Status    string
	ResultURL string
	Seed      string
	Rounds    int
}

// Generate submits the job, polls until completion, and downloads the result.
// Endpoints: POST /{model}/image-to-image, GET /{model}/requests/{id}/status,
// GET /{model}/requests/{id}
// Auth: "Key <api key>" header
func (p *QueuedProvider) Generate(ctx context.Context, req *types.GenerationRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	format := outputFormat(req, p.cfg.OutputFormat)

	dataURI, err := encodeDataURI(req.SourceImagePath)
	if err != nil {
		return nil, types.NewError(types.ErrImageIO, "read source image").
			WithProvider(p.name).
			WithStage(types.StageSubmit).
			WithCause(err)
	}

	body := queuedSubmitRequest{
		Prompt:              req.Prompt,
		ImageURL:            dataURI,
		ControlLoraImageURL: dataURI,
		Strength:            req.Param(types.ParamStrength, p.cfg.Strength),
		NumInferenceSteps:   int(req.Param(types.ParamSteps, float64(p.cfg.Steps))),
		GuidanceScale:       req.Param(types.ParamGuidanceScale, p.cfg.GuidanceScale),
		SyncMode:            false,
		NumImages:           1,
		OutputFormat:        string(format),
		ControlLoraStrength: req.Param(types.ParamControlLoraStrength, p.cfg.ControlLoraStrength),
		EnableSafetyChecker: true,
	}

	var submitted queuedSubmitResponse
	if err := p.sendJSON(ctx, types.StageSubmit, http.MethodPost, p.modelURL("image-to-image"), body, &submitted); err != nil {
		return nil, err
	}

	job := &PollableJob{ID: submitted.RequestID, Status: JobPending}
	if len(submitted.Images) > 0 && submitted.Images[0].URL != "" {
		// 服务端同步完成，无需轮询
		job.Status = JobCompleted
		job.ResultURL = submitted.Images[0].URL
	} else {
		if job.ID == "" {
			return nil, types.NewError(types.ErrProvider, "submission returned neither images nor a request id").
				WithProvider(p.name).
				WithStage(types.StageSubmit)
		}
		p.log(ctx).Info("job queued", zap.String("job_id", job.ID))
		if err := p.pollUntilDone(ctx, job); err != nil {
			return nil, err
		}
	}

	return p.materialize(ctx, job, format)
}

// pollUntilDone sleeps before every status query: 1s, 2s, 4s ... capped,
// for at most MaxRounds queries. Transient query failures consume a round
// and polling continues.
func (p *QueuedProvider) pollUntilDone(ctx context.Context, job *PollableJob) error {
	logger := p.log(ctx).With(zap.String("job_id", job.ID))
	statusURL := p.modelURL("requests", job.ID, "status")

	for round := 1; round <= p.poll.MaxAttempts; round++ {
		delay := p.poll.Delay(round)
		if err := p.sleep(ctx, delay); err != nil {
			return types.NewError(types.ErrTimeout, "polling cancelled").
				WithProvider(p.name).
				WithStage(types.StagePoll).
				WithCause(err)
		}
		job.Rounds = round

		var st queuedStatusResponse
		if err := p.sendJSON(ctx, types.StagePoll, http.MethodGet, statusURL, nil, &st); err != nil {
			if te, ok := types.AsError(err); ok && te.Code == types.ErrProvider && te.HTTPStatus >= 400 && te.HTTPStatus < 500 && te.HTTPStatus != http.StatusTooManyRequests {
				return err
			}
			logger.Warn("status query failed, continuing", zap.Int("round", round), zap.Error(err))
			if p.recorder != nil {
				p.recorder.RecordPollQuery(p.name, "error")
			}
			continue
		}

		job.Status = strings.ToUpper(st.Status)
		if p.recorder != nil {
			p.recorder.RecordPollQuery(p.name, job.Status)
		}
		logger.Debug("job status", zap.Int("round", round), zap.String("status", job.Status), zap.Duration("waited", delay))

		switch job.Status {
		case JobCompleted:
			var res queuedResultResponse
			if err := p.sendJSON(ctx, types.StageResult, http.MethodGet, p.modelURL("requests", job.ID), nil, &res); err != nil {
				return err
			}
			if len(res.Images) == 0 || res.Images[0].URL == "" {
				return types.NewError(types.ErrProvider, "completed job returned no images").
					WithProvider(p.name).
					WithStage(types.StageResult)
			}
			job.ResultURL = res.Images[0].URL
			job.Seed = res.Seed.String()
			return nil

		case JobFailed:
			msg := st.Error
			if msg == "" {
				msg = "job failed without an error message"
			}
			return types.NewError(types.ErrProvider, "generation failed: "+msg).
				WithProvider(p.name).
				WithStage(types.StagePoll).
				WithPayload(st.Error)
		}
	}

	return types.NewError(types.ErrTimeout, fmt.Sprintf(
		"job %s did not complete after %d status checks; try a smaller source image or raise the poll budget",
		job.ID, p.poll.MaxAttempts)).
		WithProvider(p.name).
		WithStage(types.StagePoll)
}

func (p *QueuedProvider) materialize(ctx context.Context, job *PollableJob, format types.OutputFormat) (*Result, error) {
	if err := transfer.ValidateLocator(job.ResultURL); err != nil {
		if te, ok := types.AsError(err); ok {
			te.WithProvider(p.name)
		}
		return nil, err
	}

	dest, err := p.reserveResultPath(format.Extension())
	if err != nil {
		return nil, err
	}
	path, err := p.downloader.Download(ctx, job.ResultURL, dest)
	if err != nil {
		if te, ok := types.AsError(err); ok && te.Provider == "" {
			te.WithProvider(p.name)
		}
		return nil, err
	}

	var n int64
	if info, err := os.Stat(path); err == nil {
		n = info.Size()
	}
	return &Result{
		Path:      path,
		Provider:  p.name,
		JobID:     job.ID,
		Seed:      job.Seed,
		SourceURL: job.ResultURL,
		Bytes:     n,
		CreatedAt: p.now(),
	}, nil
}

// sendJSON performs one JSON exchange. Non-2xx responses become PROVIDER errors
// carrying the raw payload.
func (p *QueuedProvider) sendJSON(ctx context.Context, stage types.Stage, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return types.NewError(types.ErrInvalidRequest, "encode request").WithProvider(p.name).WithCause(err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "build request").WithProvider(p.name).WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Key "+p.apiKey.Reveal())
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.do(ctx, stage, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload := p.readErrorBody(ctx, resp)
		return p.providerError(stage, resp.StatusCode, "", payload)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return p.transportError(stage, err)
	}
	p.log(ctx).Debug("response body", zap.String("stage", string(stage)), zap.String("body", truncate(string(data), logBodyLimit)))
	if err := json.Unmarshal(data, out); err != nil {
		return types.NewError(types.ErrProvider, "unexpected response format").
			WithProvider(p.name).
			WithStage(stage).
			WithHTTPStatus(resp.StatusCode).
			WithPayload(truncate(string(data), logBodyLimit)).
			WithCause(err)
	}
	return nil
}

func (p *QueuedProvider) modelURL(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, s := range parts {
		escaped[i] = url.PathEscape(s)
	}
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/" + strings.Trim(p.cfg.Model, "/") + "/" + strings.Join(escaped, "/")
}

// CheckConnectivity sends an OPTIONS probe to the storage endpoint.
func (p *QueuedProvider) CheckConnectivity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodOptions, p.cfg.CheckURL, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Key "+p.apiKey.Reveal())

	resp, err := p.do(ctx, types.StageSubmit, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p.providerError(types.StageSubmit, resp.StatusCode, "connectivity check failed", p.readErrorBody(ctx, resp))
	}
	return nil
}

// encodeDataURI embeds a local file as data:<mime>;base64,<payload>.
func encodeDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "data:" + imageMIME(path) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
