package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/render/condition"
	"github.com/BaSui01/renderflow/types"
)

// EditProvider implements multi-reference image editing against OpenAI's
// Images API.
// API Docs: https://platform.openai.com/docs/api-reference/images/createEdit
type EditProvider struct {
	*base
	cfg config.EditConfig
}

// NewEditProvider creates a multi-reference edit provider.
func NewEditProvider(cfg config.EditConfig, opts ...Option) (*EditProvider, error) {
	def := config.DefaultEditConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	b, err := newBase(string(KindEdit), cfg.APIKey, cfg.Timeout, opts)
	if err != nil {
		return nil, err
	}
	return &EditProvider{base: b, cfg: cfg}, nil
}

func (p *EditProvider) Kind() Kind { return KindEdit }

func (p *EditProvider) Constraints() condition.Constraints { return condition.Constraints{} }

type editResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

type editErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate edits req.SourceImagePath guided by req.ReferenceImagePaths.
func (p *EditProvider) Generate(ctx context.Context, req *types.GenerationRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return p.Edit(ctx, req.SourceImagePath, req.ReferenceImagePaths, req.Prompt, req.Model)
}

// Edit uploads the primary image followed by the references, in the given
// order, and writes the decoded result.
// Endpoint: POST /v1/images/edits
// Auth: Bearer token
func (p *EditProvider) Edit(ctx context.Context, primary string, refs []string, prompt, model string) (*Result, error) {
	if strings.TrimSpace(primary) == "" || strings.TrimSpace(prompt) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "primary image and prompt are required").WithProvider(p.name)
	}
	if model == "" {
		model = p.cfg.Model
	}

	// The transport may still be reading the body after the response
	// arrives, so every request owns its buffer.
	body := new(bytes.Buffer)

	form := newFormBuilder(body).
		field("model", model).
		field("prompt", prompt).
		file("image[]", primary)
	for _, ref := range refs {
		form.file("image[]", ref)
	}
	contentType, err := form.finish()
	if err != nil {
		return nil, types.NewError(types.ErrImageIO, "read input image").
			WithProvider(p.name).
			WithStage(types.StageSubmit).
			WithCause(err)
	}

	p.log(ctx).Debug("edit request",
		zap.String("model", model),
		zap.String("prompt", prompt),
		zap.Int("reference_count", len(refs)),
		zap.Int("body_bytes", body.Len()))

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/images/edits"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "build request").WithProvider(p.name).WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey.Reveal())
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.do(ctx, types.StageSubmit, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload := p.readErrorBody(ctx, resp)
		return nil, p.providerError(types.StageSubmit, resp.StatusCode, editErrorMessage(payload), payload)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.transportError(types.StageResult, err)
	}
	var out editResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, types.NewError(types.ErrProvider, "unexpected response format").
			WithProvider(p.name).
			WithStage(types.StageDecode).
			WithPayload(truncate(string(data), logBodyLimit)).
			WithCause(err)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, types.NewError(types.ErrProvider, "response contained no image data").
			WithProvider(p.name).
			WithStage(types.StageDecode).
			WithPayload(truncate(string(data), logBodyLimit))
	}

	img, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, types.NewError(types.ErrProvider, "invalid base64 image payload").
			WithProvider(p.name).
			WithStage(types.StageDecode).
			WithCause(err)
	}

	path, n, err := p.persist(ctx, bytes.NewReader(img), sniffExtension(img))
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:      path,
		Provider:  p.name,
		Bytes:     n,
		CreatedAt: p.now(),
	}, nil
}

// CheckConnectivity lists models with the configured key.
func (p *EditProvider) CheckConnectivity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey.Reveal())

	resp, err := p.do(ctx, types.StageSubmit, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload := p.readErrorBody(ctx, resp)
		return p.providerError(types.StageSubmit, resp.StatusCode, editErrorMessage(payload), payload)
	}
	return nil
}

// editErrorMessage pulls error.message out of an API error envelope. Plain
// text payloads yield "" so the caller falls back to a status message.
func editErrorMessage(payload string) string {
	var env editErrorResponse
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return ""
	}
	return env.Error.Message
}

// sniffExtension picks the file extension from the decoded bytes.
func sniffExtension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
