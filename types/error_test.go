package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrProvider, "generation rejected").
		WithCause(root).
		WithHTTPStatus(400).
		WithProvider("structure").
		WithStage(StageSubmit).
		WithPayload(`{"errors":["bad prompt"]}`)

	if GetErrorCode(err) != ErrProvider {
		t.Fatalf("expected code %s, got %s", ErrProvider, GetErrorCode(err))
	}
	if IsRetryable(err) {
		t.Fatalf("provider errors are not retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	assert.Contains(t, err.Error(), "structure")
	assert.Contains(t, err.Error(), "(submit)")
	assert.Contains(t, err.Error(), "bad prompt")
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrTimeout, "poll budget exhausted")
	wrapped := fmt.Errorf("render: %w", inner)

	assert.True(t, IsCode(wrapped, ErrTimeout))
	e, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, e)
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestError_ConstraintMessage(t *testing.T) {
	t.Parallel()

	err := NewError(ErrConstraintViolation, "aspect ratio rejected").
		WithConstraint(ConstraintDetail{Width: 3000, Height: 1000, MinAspect: 0.4, MaxAspect: 2.5})

	msg := err.Error()
	assert.Contains(t, msg, "3000x1000")
	assert.Contains(t, msg, "3.00")
	assert.Contains(t, msg, "1:2.5")
	assert.Contains(t, msg, "2.5:1")
}

func TestConstraintDetail_MissingBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		detail ConstraintDetail
		want   string
	}{
		{"no min", ConstraintDetail{Width: 3000, Height: 1000, MaxAspect: 2.5}, "at most 2.5:1"},
		{"no max", ConstraintDetail{Width: 1000, Height: 3000, MinAspect: 0.4}, "at least 1:2.5"},
		{"no bounds", ConstraintDetail{}, "unknown dimensions, aspect ratio rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.detail.String()
			assert.Contains(t, got, tt.want)
			assert.NotContains(t, got, "Inf")
			assert.NotContains(t, got, "1:0.0")
		})
	}
}

func TestError_StrategiesCopied(t *testing.T) {
	t.Parallel()

	names := []string{"http", "resty"}
	err := NewError(ErrAssetUnavailable, "download failed").WithStrategies(names)
	names[0] = "mutated"

	assert.Equal(t, []string{"http", "resty"}, err.Strategies)
}
