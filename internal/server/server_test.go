package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// newTestServer creates a Server wired with built-in handlers and connected
// to in-memory pipes. Returns the write end of stdin and the read end of
// stdout; the server runs in a background goroutine until cleanup.
func newTestServer(t *testing.T) (io.WriteCloser, io.ReadCloser, *Server) {
	t.Helper()

	// Keep the test hermetic: no provider keys, cache in a temp dir.
	t.Setenv("VERDICT_CACHE_DIR", t.TempDir())
	t.Setenv("VERDICT_OPENAI_API_KEY", "")
	t.Setenv("VERDICT_HF_API_KEY", "")
	t.Setenv("VERDICT_PI_API_KEY", "")

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := New(stdinR, stdoutW, logger)
	RegisterBuiltinHandlers(srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(func() {
		cancel()
		stdinW.Close()
		stdoutR.Close()
	})

	go func() {
		_ = srv.Run(ctx)
		stdoutW.Close()
	}()

	return stdinW, stdoutR, srv
}

// sendRequest writes a JSON-RPC request as one NDJSON line.
func sendRequest(t *testing.T, w io.Writer, id int64, method string, params any) {
	t.Helper()
	p, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	req := types.Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  p,
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

// readResponse reads one NDJSON line from r into a Response.
func readResponse(t *testing.T, r io.Reader) *types.Response {
	t.Helper()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	if !scanner.Scan() {
		t.Fatalf("no response line: %v", scanner.Err())
	}
	var resp types.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return &resp
}

func initializeParams() types.InitializeParams {
	return types.InitializeParams{
		SDKName:              "verdict-test",
		SDKVersion:           "0.1.0",
		ProtocolVersion:      1,
		RequiredCapabilities: []string{"content", "distance"},
	}
}

func TestServerInitialize(t *testing.T) {
	stdin, stdout, _ := newTestServer(t)

	sendRequest(t, stdin, 1, types.MethodInitialize, initializeParams())
	resp := readResponse(t, stdout)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.JSONRPC != "2.0" {
		t.Errorf("JSONRPC = %q, want %q", resp.JSONRPC, "2.0")
	}
	if resp.ID != 1 {
		t.Errorf("ID = %d, want 1", resp.ID)
	}

	var result types.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.EngineVersion != engineVersion {
		t.Errorf("EngineVersion = %q, want %q", result.EngineVersion, engineVersion)
	}
	if !result.Compatible {
		t.Errorf("Compatible = false, want true; missing = %v", result.Missing)
	}
	if len(result.Missing) != 0 {
		t.Errorf("Missing = %v, want []", result.Missing)
	}
	if result.MaxConcurrentRequests != 1 {
		t.Errorf("MaxConcurrentRequests = %d, want 1", result.MaxConcurrentRequests)
	}

	found := false
	for _, c := range result.Capabilities {
		if c == "content" {
			found = true
		}
	}
	if !found {
		t.Errorf("Capabilities = %v, want to include %q", result.Capabilities, "content")
	}
}

func TestServerInitializeMissingCapability(t *testing.T) {
	stdin, stdout, _ := newTestServer(t)

	// Without provider keys the judge family is dark.
	p := initializeParams()
	p.RequiredCapabilities = []string{"content", "judge"}
	sendRequest(t, stdin, 1, types.MethodInitialize, p)
	resp := readResponse(t, stdout)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result types.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Compatible {
		t.Error("Compatible = true, want false when judge is required but unconfigured")
	}
	if len(result.Missing) != 1 || result.Missing[0] != "judge" {
		t.Errorf("Missing = %v, want [judge]", result.Missing)
	}
}

func TestServerInitializeTwice(t *testing.T) {
	stdin, stdout, _ := newTestServer(t)

	sendRequest(t, stdin, 1, types.MethodInitialize, initializeParams())
	_ = readResponse(t, stdout)

	sendRequest(t, stdin, 2, types.MethodInitialize, initializeParams())
	resp := readResponse(t, stdout)

	if resp.Error == nil {
		t.Fatal("expected error on second initialize, got nil")
	}
	if resp.Error.Code != types.ErrProtocol {
		t.Errorf("Error.Code = %d, want %d", resp.Error.Code, types.ErrProtocol)
	}
}

func TestServerIncompatibleProtocolVersion(t *testing.T) {
	stdin, stdout, _ := newTestServer(t)

	p := initializeParams()
	p.ProtocolVersion = 99
	sendRequest(t, stdin, 1, types.MethodInitialize, p)
	resp := readResponse(t, stdout)

	if resp.Error == nil {
		t.Fatal("expected error for incompatible protocol version, got nil")
	}
	if resp.Error.Code != types.ErrProtocol {
		t.Errorf("Error.Code = %d, want %d", resp.Error.Code, types.ErrProtocol)
	}
}

func TestServerEvaluateBeforeInitialize(t *testing.T) {
	stdin, stdout, _ := newTestServer(t)

	params := types.EvaluateCaseParams{
		Case:  types.TestCase{Assert: []types.Assertion{{Type: types.TypeContains, Value: "x"}}},
		Input: types.CaseInput{Output: "x"},
	}
	sendRequest(t, stdin, 1, types.MethodEvaluateCase, params)
	resp := readResponse(t, stdout)

	if resp.Error == nil {
		t.Fatal("expected protocol error, got nil")
	}
	if resp.Error.Code != types.ErrProtocol {
		t.Errorf("Error.Code = %d, want %d", resp.Error.Code, types.ErrProtocol)
	}
}

func TestServerUnknownMethod(t *testing.T) {
	stdin, stdout, _ := newTestServer(t)

	sendRequest(t, stdin, 1, "nonexistent_method", map[string]any{})
	resp := readResponse(t, stdout)

	if resp.Error == nil {
		t.Fatal("expected method_not_found error, got nil")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("Error.Code = %d, want -32601", resp.Error.Code)
	}
}

func TestServerMalformedJSON(t *testing.T) {
	stdin, stdout, _ := newTestServer(t)

	if _, err := io.WriteString(stdin, "not valid json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readResponse(t, stdout)

	if resp.Error == nil {
		t.Fatal("expected parse error, got nil")
	}
	if resp.Error.Code != -32700 {
		t.Errorf("Error.Code = %d, want -32700", resp.Error.Code)
	}
}

func TestServerInvalidRequest(t *testing.T) {
	stdin, stdout, _ := newTestServer(t)

	if _, err := io.WriteString(stdin, `{"id":1,"method":"initialize"}`+"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readResponse(t, stdout)

	if resp.Error == nil {
		t.Fatal("expected invalid request error, got nil")
	}
	if resp.Error.Code != -32600 {
		t.Errorf("Error.Code = %d, want -32600", resp.Error.Code)
	}
}

func TestServerShutdown(t *testing.T) {
	stdin, stdout, _ := newTestServer(t)

	sendRequest(t, stdin, 1, types.MethodInitialize, initializeParams())
	_ = readResponse(t, stdout)

	sendRequest(t, stdin, 2, types.MethodShutdown, map[string]any{})
	resp := readResponse(t, stdout)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result types.ShutdownResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal ShutdownResult: %v", err)
	}
	if result.CasesEvaluated != 0 {
		t.Errorf("CasesEvaluated = %d, want 0", result.CasesEvaluated)
	}
}
