package types

import (
	"errors"
	"fmt"

	"github.com/segmentio/encoding/json"
)

// JSON-RPC error codes. 1xxx configuration, 2xxx resources, 3xxx providers.
const (
	ErrUnknownType   = 1001
	ErrBadConfig     = 1002
	ErrBadSchema     = 1003
	ErrBadExpression = 1004
	ErrProtocol      = 1005

	ErrResourceMissing  = 2001
	ErrMissingVariable  = 2002
	ErrLatencyMissing   = 2003
	ErrTraceUnavailable = 2100

	ErrProviderUnavailable = 3001
	ErrProviderTimeout     = 3002
	ErrProviderResponse    = 3003

	ErrTypeConfig           = "CONFIG_ERROR"
	ErrTypeResource         = "RESOURCE_ERROR"
	ErrTypeTraceUnavailable = "TRACE_UNAVAILABLE"
	ErrTypeProvider         = "PROVIDER_ERROR"
	ErrTypeCode             = "CODE_ERROR"
	ErrTypeProtocol         = "PROTOCOL_ERROR"
)

// Sentinels wrapped by ResourceError to refine the RPC code.
var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrVariableUnset    = errors.New("template variable unset")
	ErrLatencyUnset     = errors.New("latency not measured")
)

// UnknownTypeError marks an assertion whose type names no registered
// strategy. Raised during validation, before any grading starts.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return "unknown assertion type: " + e.Type
}

// SchemaError marks a JSON schema that failed to load or compile.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string { return "schema: " + e.Msg }

// ConfigError marks a malformed assertion or engine configuration. Config
// errors abort the run before any grading starts.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// NewConfigError builds a ConfigError for the given field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ResourceError marks an input the grader needed but could not obtain, such
// as a missing reference file or an unset template variable.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	if e.Err == nil {
		return "resource error: " + e.Resource
	}
	return fmt.Sprintf("resource %s: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// NewResourceError builds a ResourceError for the named resource.
func NewResourceError(resource string, err error) *ResourceError {
	return &ResourceError{Resource: resource, Err: err}
}

// TraceUnavailableError reports a trace assertion run against an input that
// carries no trace. It means "could not evaluate", never "failed".
type TraceUnavailableError struct {
	Check string
}

func (e *TraceUnavailableError) Error() string {
	return fmt.Sprintf("%s: no trace attached to input", e.Check)
}

// ProviderError wraps a failure from an external model provider or scoring
// endpoint.
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError for the named provider.
func NewProviderError(provider string, retryable bool, err error) *ProviderError {
	return &ProviderError{Provider: provider, Err: err, Retryable: retryable}
}

// CodeError wraps an exception raised by user-supplied grading code.
type CodeError struct {
	Lang string
	Msg  string
}

func (e *CodeError) Error() string {
	return e.Lang + " assertion: " + e.Msg
}

// RPCErrorFor maps a typed engine error onto the wire taxonomy. Unknown
// errors map to a generic non-retryable config code so the client always
// sees a classified failure.
func RPCErrorFor(err error) *RPCError {
	var (
		unkErr   *UnknownTypeError
		schErr   *SchemaError
		cfgErr   *ConfigError
		resErr   *ResourceError
		traceErr *TraceUnavailableError
		provErr  *ProviderError
		codeErr  *CodeError
	)
	switch {
	case errors.As(err, &traceErr):
		return NewRPCError(ErrTraceUnavailable, traceErr.Error(), ErrTypeTraceUnavailable, false, traceErr.Check)
	case errors.As(err, &unkErr):
		return NewRPCError(ErrUnknownType, unkErr.Error(), ErrTypeConfig, false, unkErr.Type)
	case errors.As(err, &schErr):
		return NewRPCError(ErrBadSchema, schErr.Error(), ErrTypeConfig, false, "")
	case errors.As(err, &cfgErr):
		return NewRPCError(ErrBadConfig, cfgErr.Error(), ErrTypeConfig, false, cfgErr.Field)
	case errors.As(err, &resErr):
		code := ErrResourceMissing
		switch {
		case errors.Is(resErr.Err, ErrVariableUnset):
			code = ErrMissingVariable
		case errors.Is(resErr.Err, ErrLatencyUnset):
			code = ErrLatencyMissing
		}
		return NewRPCError(code, resErr.Error(), ErrTypeResource, false, resErr.Resource)
	case errors.As(err, &provErr):
		return NewRPCError(ErrProviderUnavailable, provErr.Error(), ErrTypeProvider, provErr.Retryable, provErr.Provider)
	case errors.As(err, &codeErr):
		return NewRPCError(ErrBadConfig, codeErr.Error(), ErrTypeCode, false, codeErr.Lang)
	default:
		return NewRPCError(ErrBadConfig, err.Error(), ErrTypeConfig, false, "")
	}
}

// NewRPCError constructs an RPCError with the given fields.
func NewRPCError(code int, message string, errorType string, retryable bool, detail string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data: &ErrorData{
			ErrorType: errorType,
			Retryable: retryable,
			Detail:    detail,
		},
	}
}

// NewErrorResponse constructs a JSON-RPC error response.
func NewErrorResponse(id int64, err *RPCError) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   err,
	}
}

// NewSuccessResponse constructs a JSON-RPC success response from a result value.
func NewSuccessResponse(id int64, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  raw,
	}, nil
}
