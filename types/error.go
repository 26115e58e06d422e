package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unified error code across the render pipeline.
type ErrorCode string

// Render error codes
const (
	ErrImageIO             ErrorCode = "IMAGE_IO"
	ErrProtocol            ErrorCode = "PROTOCOL"
	ErrConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
	ErrProvider            ErrorCode = "PROVIDER"
	ErrAssetUnavailable    ErrorCode = "ASSET_UNAVAILABLE"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrNetwork             ErrorCode = "NETWORK"
)

// Session error codes
const (
	ErrBusy                ErrorCode = "BUSY"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrUnsupportedProvider ErrorCode = "UNSUPPORTED_PROVIDER"
)

// Stage 标记错误发生在渲染流程的哪一步
type Stage string

const (
	StageCondition Stage = "condition"
	StageSubmit    Stage = "submit"
	StagePoll      Stage = "poll"
	StageResult    Stage = "result"
	StageTransfer  Stage = "transfer"
	StageDecode    Stage = "decode"
	StagePersist   Stage = "persist"
)

// ConstraintDetail describes a geometric constraint the provider rejected.
type ConstraintDetail struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	MinAspect float64 `json:"min_aspect"`
	MaxAspect float64 `json:"max_aspect"`
	MaxPixels int64   `json:"max_pixels,omitempty"`
}

// AspectRatio returns width/height of the offending image, or 0 when unknown.
func (c ConstraintDetail) AspectRatio() float64 {
	if c.Height == 0 {
		return 0
	}
	return float64(c.Width) / float64(c.Height)
}

func (c ConstraintDetail) String() string {
	dims := "unknown dimensions"
	if c.Width > 0 && c.Height > 0 {
		dims = fmt.Sprintf("%dx%d (aspect ratio: %.2f)", c.Width, c.Height, c.AspectRatio())
	}
	switch {
	case c.MinAspect > 0 && c.MaxAspect > 0:
		return fmt.Sprintf("image %s, required aspect ratio between 1:%.1f and %.1f:1",
			dims, 1/c.MinAspect, c.MaxAspect)
	case c.MinAspect > 0:
		return fmt.Sprintf("image %s, required aspect ratio of at least 1:%.1f", dims, 1/c.MinAspect)
	case c.MaxAspect > 0:
		return fmt.Sprintf("image %s, required aspect ratio of at most %.1f:1", dims, c.MaxAspect)
	}
	return fmt.Sprintf("image %s, aspect ratio rejected", dims)
}

// Error represents a structured error with code, message, and diagnostics.
type Error struct {
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"http_status,omitempty"`
	Retryable  bool              `json:"retryable"`
	Provider   string            `json:"provider,omitempty"`
	Stage      Stage             `json:"stage,omitempty"`
	Payload    string            `json:"payload,omitempty"`
	Constraint *ConstraintDetail `json:"constraint,omitempty"`
	Strategies []string          `json:"strategies,omitempty"`
	Cause      error             `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Code)
	if e.Provider != "" {
		fmt.Fprintf(&b, " %s", e.Provider)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " (%s)", e.Stage)
	}
	fmt.Fprintf(&b, " %s", e.Message)
	if e.Constraint != nil {
		fmt.Fprintf(&b, ": %s", e.Constraint)
	}
	if e.Payload != "" {
		fmt.Fprintf(&b, ": %s", e.Payload)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithStage sets the pipeline stage.
func (e *Error) WithStage(stage Stage) *Error {
	e.Stage = stage
	return e
}

// WithPayload attaches the raw provider error payload.
func (e *Error) WithPayload(payload string) *Error {
	e.Payload = payload
	return e
}

// WithConstraint attaches the violated geometric constraint.
func (e *Error) WithConstraint(c ConstraintDetail) *Error {
	e.Constraint = &c
	return e
}

// WithStrategies records the transfer strategies that were attempted.
func (e *Error) WithStrategies(names []string) *Error {
	e.Strategies = append([]string(nil), names...)
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
