package types

import "encoding/json"

// RPC method names.
const (
	MethodInitialize       = "initialize"
	MethodEvaluateCase     = "evaluate_case"
	MethodEvaluateGroup    = "evaluate_group"
	MethodResolveTemplates = "resolve_templates"
	MethodComputeMetrics   = "compute_metrics"
	MethodReport           = "report"
	MethodShutdown         = "shutdown"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error object.
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData holds structured error detail.
type ErrorData struct {
	ErrorType string `json:"error_type"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail"`
}

// InitializeParams holds parameters for the initialize method.
type InitializeParams struct {
	SDKName              string   `json:"sdk_name"`
	SDKVersion           string   `json:"sdk_version"`
	ProtocolVersion      int      `json:"protocol_version"`
	RequiredCapabilities []string `json:"required_capabilities"`
}

// InitializeResult holds the result of the initialize method. Capabilities
// lists the strategy families live under the current provider configuration.
type InitializeResult struct {
	EngineVersion         string   `json:"engine_version"`
	ProtocolVersion       int      `json:"protocol_version"`
	Capabilities          []string `json:"capabilities"`
	Missing               []string `json:"missing"`
	Compatible            bool     `json:"compatible"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests"`
}

// EvaluateCaseParams holds parameters for the evaluate_case method.
type EvaluateCaseParams struct {
	Case  TestCase  `json:"case"`
	Input CaseInput `json:"input"`
}

// EvaluateCaseResult holds the result of the evaluate_case method.
type EvaluateCaseResult struct {
	Result *CaseResult `json:"result"`
}

// EvaluateGroupParams grades sibling candidates together so comparative
// assertions can rank them.
type EvaluateGroupParams struct {
	Case   TestCase    `json:"case"`
	Inputs []CaseInput `json:"inputs"`
}

// EvaluateGroupResult holds one result per candidate, in input order. Winner
// is the index of the selected candidate when a comparative assertion ran.
type EvaluateGroupResult struct {
	Results []*CaseResult `json:"results"`
	Winner  *int          `json:"winner,omitempty"`
}

// ResolveTemplatesParams holds parameters for the resolve_templates method.
// Either LibraryPath (a YAML file) or an inline Library may supply the
// template definitions.
type ResolveTemplatesParams struct {
	LibraryPath string              `json:"library_path,omitempty"`
	Library     []AssertionTemplate `json:"library,omitempty"`
	Assert      []Assertion         `json:"assert"`
}

// ResolveTemplatesResult holds the assertions with every $ref expanded.
type ResolveTemplatesResult struct {
	Assert []Assertion `json:"assert"`
}

// ComputeMetricsParams holds the derived-metric expressions to evaluate over
// the session's accumulated named metrics.
type ComputeMetricsParams struct {
	Derived []DerivedMetric `json:"derived"`
}

// ComputeMetricsResult holds the frozen named metrics and one entry per
// derived expression; a failed expression reports its error without
// affecting the others.
type ComputeMetricsResult struct {
	Named   map[string]float64    `json:"named"`
	Derived []DerivedMetricResult `json:"derived"`
}

// DerivedMetricResult is the value (or error) of one derived expression.
type DerivedMetricResult struct {
	Name  string  `json:"name"`
	Value float64 `json:"value,omitempty"`
	Error string  `json:"error,omitempty"`
}

// ReportParams holds parameters for the report method.
type ReportParams struct {
	Format string `json:"format"`
	Title  string `json:"title,omitempty"`
}

// ReportResult holds the rendered report.
type ReportResult struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

// ShutdownResult holds the result of the shutdown method.
type ShutdownResult struct {
	CasesEvaluated      int `json:"cases_evaluated"`
	AssertionsEvaluated int `json:"assertions_evaluated"`
}
