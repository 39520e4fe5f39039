package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConfig marks a malformed or absent credential set or option; it is never swallowed
	ErrTypeConfig ErrorType = "config"
	// ErrTypeTransport marks a network failure: dial, DNS, TLS, timeout or an open breaker
	ErrTypeTransport ErrorType = "transport"
	// ErrTypeService marks a structured failure returned by the remote API
	ErrTypeService ErrorType = "service"
	// ErrTypeParse marks a body that did not match the expected shape
	ErrTypeParse ErrorType = "parse"
	// ErrTypeInternal represents internal failures
	ErrTypeInternal ErrorType = "internal"
)

// CodeUnparseableBody is the synthetic service code used when an error body could not be decoded
const CodeUnparseableBody = -1

// ServiceDetail is one (code, message) pair reported by the remote API
type ServiceDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AppError represents a structured error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
	Details    []ServiceDetail        `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("[%d] %s", d.Code, d.Message))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// HasCode reports whether any service detail carries code
func (e *AppError) HasCode(code int) bool {
	for _, d := range e.Details {
		if d.Code == code {
			return true
		}
	}
	return false
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// TransportError creates a new transport error
func TransportError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTransport,
		Message: msg,
		Cause:   cause,
	}
}

// ServiceError creates a service error carrying the remote status and details verbatim
func ServiceError(statusCode int, details []ServiceDetail) *AppError {
	msg := fmt.Sprintf("remote service returned HTTP %d", statusCode)
	if len(details) > 0 {
		msg = details[0].Message
	}
	return &AppError{
		Type:       ErrTypeService,
		Message:    msg,
		StatusCode: statusCode,
		Details:    details,
	}
}

// ParseError creates a new parse error
func ParseError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeParse,
		Message: msg,
		Cause:   cause,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// AsServiceError converts a parse failure into a service error with the
// synthetic CodeUnparseableBody code. Other errors are returned unchanged.
func AsServiceError(err error, statusCode int) error {
	var appErr *AppError
	if !stderrors.As(err, &appErr) || appErr.Type != ErrTypeParse {
		return err
	}
	return &AppError{
		Type:       ErrTypeService,
		Message:    "unparseable error body",
		StatusCode: statusCode,
		Details:    []ServiceDetail{{Code: CodeUnparseableBody, Message: appErr.Message}},
		Cause:      appErr,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}

// IsConfiguration reports whether err is a configuration error
func IsConfiguration(err error) bool { return IsType(err, ErrTypeConfig) }

// IsTransport reports whether err is a transport error
func IsTransport(err error) bool { return IsType(err, ErrTypeTransport) }

// IsService reports whether err is a service error
func IsService(err error) bool { return IsType(err, ErrTypeService) }

// As is re-exported so callers importing this package under the name errors
// do not need the standard library package as well
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
