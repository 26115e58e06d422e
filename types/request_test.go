package types

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential_NeverPrintsInFull(t *testing.T) {
	t.Parallel()

	c := Credential("sk-abcdef123456")

	assert.Equal(t, "sk-a", c.Prefix())
	assert.Equal(t, "sk-a****", c.String())
	assert.Equal(t, "sk-a****", fmt.Sprintf("%v", c))
	assert.NotContains(t, fmt.Sprintf("%#v", c), "123456")

	data, err := json.Marshal(struct {
		Key Credential `json:"key"`
	}{Key: c})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"sk-a****"}`, string(data))
	assert.Equal(t, "sk-abcdef123456", c.Reveal())
}

func TestCredential_Short(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ab", Credential("ab").Prefix())
	assert.Equal(t, "", Credential("").Masked())
	assert.True(t, Credential("").Empty())
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want OutputFormat
		ext  string
	}{
		{"jpeg", OutputJPEG, "jpg"},
		{"JPG", OutputJPEG, "jpg"},
		{"png", OutputPNG, "png"},
		{" webp ", OutputWebP, "webp"},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.ext, got.Extension())
	}

	_, err := ParseOutputFormat("tiff")
	assert.Error(t, err)
}

func TestGenerationRequest_ValidateAndParams(t *testing.T) {
	t.Parallel()

	req := &GenerationRequest{
		SourceImagePath: "view.png",
		Prompt:          "photorealistic rendering",
		Params:          map[string]float64{ParamControlStrength: 0.7},
	}
	require.NoError(t, req.Validate())
	assert.Equal(t, 0.7, req.Param(ParamControlStrength, 0.5))
	assert.Equal(t, 28.0, req.Param(ParamSteps, 28))

	assert.True(t, IsCode((&GenerationRequest{Prompt: "x"}).Validate(), ErrInvalidRequest))
	assert.True(t, IsCode((&GenerationRequest{SourceImagePath: "a.png"}).Validate(), ErrInvalidRequest))
	assert.True(t, IsCode((&GenerationRequest{SourceImagePath: "a.png", Prompt: "x", OutputFormat: "gif"}).Validate(), ErrInvalidRequest))
}

func TestGenerationRequest_WithSourceDoesNotAlias(t *testing.T) {
	t.Parallel()

	req := &GenerationRequest{
		SourceImagePath:     "view.png",
		ReferenceImagePaths: []string{"a.png"},
		Prompt:              "p",
		Params:              map[string]float64{ParamStrength: 0.85},
	}
	cp := req.WithSource("view_corrected.png")
	cp.Params[ParamStrength] = 0.1
	cp.ReferenceImagePaths[0] = "b.png"

	assert.Equal(t, "view.png", req.SourceImagePath)
	assert.Equal(t, 0.85, req.Params[ParamStrength])
	assert.Equal(t, "a.png", req.ReferenceImagePaths[0])
	assert.Equal(t, "view_corrected.png", cp.SourceImagePath)
}
