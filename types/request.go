package types

import (
	"fmt"
	"strings"
)

// OutputFormat is the encoding requested from a provider.
type OutputFormat string

const (
	OutputJPEG OutputFormat = "jpeg"
	OutputPNG  OutputFormat = "png"
	OutputWebP OutputFormat = "webp"
)

// ParseOutputFormat normalizes user input ("jpg", "PNG", ...) into an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return OutputJPEG, nil
	case "png":
		return OutputPNG, nil
	case "webp":
		return OutputWebP, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// Extension returns the file extension without the dot.
func (f OutputFormat) Extension() string {
	if f == OutputJPEG {
		return "jpg"
	}
	return string(f)
}

// Well-known numeric parameter names.
const (
	ParamStrength            = "strength"
	ParamSteps               = "num_inference_steps"
	ParamGuidanceScale       = "guidance_scale"
	ParamControlStrength     = "control_strength"
	ParamControlLoraStrength = "control_lora_strength"
)

// GenerationRequest is one user-initiated render. Treat it as read-only once built.
type GenerationRequest struct {
	SourceImagePath     string             `json:"source_image_path"`
	ReferenceImagePaths []string           `json:"reference_image_paths,omitempty"`
	Prompt              string             `json:"prompt"`
	NegativePrompt      string             `json:"negative_prompt,omitempty"`
	Params              map[string]float64 `json:"params,omitempty"`
	OutputFormat        OutputFormat       `json:"output_format,omitempty"`
	StylePreset         string             `json:"style_preset,omitempty"`
	Model               string             `json:"model,omitempty"`
}

// Param returns the named numeric control, or def when it is not set.
func (r *GenerationRequest) Param(name string, def float64) float64 {
	if r.Params == nil {
		return def
	}
	if v, ok := r.Params[name]; ok {
		return v
	}
	return def
}

// WithSource returns a shallow copy pointing at a different primary image.
// Reference paths and params are copied so the original stays untouched.
func (r *GenerationRequest) WithSource(path string) *GenerationRequest {
	cp := *r
	cp.SourceImagePath = path
	cp.ReferenceImagePaths = append([]string(nil), r.ReferenceImagePaths...)
	if r.Params != nil {
		cp.Params = make(map[string]float64, len(r.Params))
		for k, v := range r.Params {
			cp.Params[k] = v
		}
	}
	return &cp
}

// Validate checks the fields every provider needs.
func (r *GenerationRequest) Validate() error {
	if r == nil {
		return NewError(ErrInvalidRequest, "request is required")
	}
	if strings.TrimSpace(r.SourceImagePath) == "" {
		return NewError(ErrInvalidRequest, "source image path is required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return NewError(ErrInvalidRequest, "prompt is required")
	}
	if r.OutputFormat != "" {
		if _, err := ParseOutputFormat(string(r.OutputFormat)); err != nil {
			return NewError(ErrInvalidRequest, err.Error())
		}
	}
	return nil
}
