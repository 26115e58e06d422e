package image

import (
	"bytes"
	"context"
	"image"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/render/condition"
	"github.com/BaSui01/renderflow/types"
)

// StructureProvider implements structure-guided image-to-image generation
// against Stability AI's Stable Image Control API.
// API Docs: https://platform.stability.ai/docs/api-reference#tag/Control/paths/~1v2beta~1stable-image~1control~1structure/post
type StructureProvider struct {
	*base
	cfg config.StructureConfig
}

// NewStructureProvider creates a structure-conditioned provider.
func NewStructureProvider(cfg config.StructureConfig, opts ...Option) (*StructureProvider, error) {
	def := config.DefaultStructureConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = def.OutputFormat
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Constraints == (config.ConstraintsConfig{}) {
		cfg.Constraints = def.Constraints
	}

	b, err := newBase(string(KindStructure), cfg.APIKey, cfg.Timeout, opts)
	if err != nil {
		return nil, err
	}
	return &StructureProvider{base: b, cfg: cfg}, nil
}

func (p *StructureProvider) Kind() Kind { return KindStructure }

func (p *StructureProvider) Constraints() condition.Constraints {
	return condition.Constraints{
		MinAspect: p.cfg.Constraints.MinAspect,
		MaxAspect: p.cfg.Constraints.MaxAspect,
		MaxPixels: p.cfg.Constraints.MaxPixels,
	}
}

// Generate uploads the source image and writes the returned bytes to a result file.
// Endpoint: POST /v2beta/stable-image/control/structure
// Auth: Bearer token, Accept: image/*
func (p *StructureProvider) Generate(ctx context.Context, req *types.GenerationRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	format := outputFormat(req, p.cfg.OutputFormat)
	controlStrength := req.Param(types.ParamControlStrength, p.cfg.ControlStrength)
	negative := req.NegativePrompt
	if negative == "" {
		negative = p.cfg.NegativePrompt
	}
	style := req.StylePreset
	if style == "" {
		style = p.cfg.StylePreset
	}

	// The transport may still be reading the body after the response
	// arrives, so every request owns its buffer.
	body := new(bytes.Buffer)

	contentType, err := newFormBuilder(body).
		field("prompt", req.Prompt).
		field("control_strength", strconv.FormatFloat(controlStrength, 'f', -1, 64)).
		optionalField("negative_prompt", negative).
		optionalField("style_preset", style).
		field("output_format", string(format)).
		file("image", req.SourceImagePath).
		finish()
	if err != nil {
		return nil, types.NewError(types.ErrImageIO, "read source image").
			WithProvider(p.name).
			WithStage(types.StageSubmit).
			WithCause(err)
	}

	p.log(ctx).Debug("structure request",
		zap.String("prompt", req.Prompt),
		zap.Float64("control_strength", controlStrength),
		zap.String("negative_prompt", negative),
		zap.String("style_preset", style),
		zap.String("output_format", string(format)),
		zap.Int("body_bytes", body.Len()))

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "build request").WithProvider(p.name).WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey.Reveal())
	httpReq.Header.Set("Accept", "image/*")
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.do(ctx, types.StageSubmit, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload := p.readErrorBody(ctx, resp)
		return nil, p.rejection(req.SourceImagePath, resp.StatusCode, payload)
	}

	seed := resp.Header.Get("seed")
	finish := resp.Header.Get("finish-reason")
	p.log(ctx).Info("generation succeeded", zap.String("seed", seed), zap.String("finish_reason", finish))

	path, n, err := p.persist(ctx, resp.Body, format.Extension())
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:         path,
		Provider:     p.name,
		Seed:         seed,
		FinishReason: finish,
		Bytes:        n,
		CreatedAt:    p.now(),
	}, nil
}

// rejection maps an error response. Aspect-ratio complaints become constraint
// violations carrying the submitted image's size so the caller can re-condition.
func (p *StructureProvider) rejection(sourcePath string, status int, payload string) *types.Error {
	if strings.Contains(strings.ToLower(payload), "aspect ratio") {
		w, h := imageSize(sourcePath)
		return types.NewError(types.ErrConstraintViolation, "provider rejected the image aspect ratio").
			WithProvider(p.name).
			WithStage(types.StageSubmit).
			WithHTTPStatus(status).
			WithPayload(payload).
			WithConstraint(p.Constraints().Detail(w, h))
	}
	return p.providerError(types.StageSubmit, status, "", payload)
}

// CheckConnectivity verifies the key against the account endpoint.
func (p *StructureProvider) CheckConnectivity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/user/account"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey.Reveal())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.do(ctx, types.StageSubmit, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.providerError(types.StageSubmit, resp.StatusCode, "connectivity check failed", p.readErrorBody(ctx, resp))
	}
	return nil
}

// imageSize returns 0, 0 when the header cannot be read.
func imageSize(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
