package domain

import "errors"

// Common domain errors
var (
	ErrPolicyNotFound      = errors.New("policy document not found")
	ErrPolicyInvalid       = errors.New("policy document invalid")
	ErrUnsupportedVersion  = errors.New("unsupported policy document version")
	ErrUnknownLocation     = errors.New("unknown location")
	ErrUnknownEffect       = errors.New("unknown effect")
	ErrUnknownPickerMode   = errors.New("unknown document picker mode")
	ErrUnknownNotification = errors.New("unknown notification policy")
)

// ErrorResponse defines the JSON error model returned by the query API.
// TraceID carries the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
