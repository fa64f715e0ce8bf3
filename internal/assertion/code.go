package assertion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "embed"

	"github.com/segmentio/encoding/json"
	"github.com/verdictlabs/verdict/engine/internal/resolver"
	"github.com/verdictlabs/verdict/engine/pkg/types"
)

const (
	langJavascript = "javascript"
	langPython     = "python"

	defaultCodeTimeoutMS = 10000
)

//go:embed data/harness.py
var harnessPy string

//go:embed data/harness.js
var harnessJS string

// codeStrategy runs caller-supplied grading code in a subprocess behind a
// serialized contract: the embedded harness reads {output, context} plus the
// code location on stdin and prints {ok, result} or {ok:false, error}. User
// exceptions become failing results, never engine errors, so bad grading code
// cannot take down a run.
type codeStrategy struct {
	lang    string
	workDir string
}

type codeConfig struct {
	TimeoutMS int
}

type codePayload struct {
	Output  string      `json:"output"`
	Context codeContext `json:"context"`
	Path    string      `json:"path,omitempty"`
	Func    string      `json:"func,omitempty"`
	Source  string      `json:"source,omitempty"`
}

type codeContext struct {
	Prompt string         `json:"prompt,omitempty"`
	Vars   map[string]any `json:"vars,omitempty"`
}

type codeReply struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// gradeShape is the object form user code may return.
type gradeShape struct {
	Pass        *bool
	Score       *float64
	Reason      string
	NamedScores map[string]float64
}

func (s *codeStrategy) Remote() bool { return true }

func (s *codeStrategy) Evaluate(ctx context.Context, in *Input) (*types.GradingResult, error) {
	var cfg codeConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}
	timeoutMS := cfg.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = defaultCodeTimeoutMS
	}

	payload := codePayload{
		Output:  in.Output,
		Context: codeContext{Prompt: in.Prompt, Vars: in.Vars},
	}
	switch v := in.Value.(type) {
	case *resolver.Callable:
		if v.Lang != s.lang {
			return nil, types.NewConfigError(in.Assertion.Type, "file %s is %s, not %s", v.Path, v.Lang, s.lang)
		}
		payload.Path = v.Path
		payload.Func = v.Func
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, types.NewConfigError(in.Assertion.Type, "requires a file reference or inline expression")
		}
		payload.Source = v
	default:
		return nil, types.NewConfigError(in.Assertion.Type, "value must be a file:// reference or inline source, got %T", in.Value)
	}

	stdin, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewConfigError(in.Assertion.Type, "marshal code payload: %v", err)
	}

	reply, err := s.runHarness(ctx, stdin, timeoutMS)
	if err != nil {
		return nil, err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failResult(0, "%s assertion timed out after %dms", s.lang, timeoutMS), nil
	}
	if reply == nil {
		return failResult(0, "%s assertion timed out after %dms", s.lang, timeoutMS), nil
	}
	if !reply.OK {
		return failResult(0, "%s assertion raised: %s", s.lang, reply.Error), nil
	}
	return s.coerceResult(in, reply.Result)
}

// runHarness writes the embedded wrapper to a temp file and executes it with
// the payload on stdin. A nil reply with nil error means the deadline hit.
func (s *codeStrategy) runHarness(ctx context.Context, stdin []byte, timeoutMS int) (*codeReply, error) {
	var bin, ext, wrapper string
	switch s.lang {
	case langPython:
		bin, ext, wrapper = resolvePythonBin(), "py", harnessPy
	case langJavascript:
		bin, ext, wrapper = "node", "js", harnessJS
	default:
		return nil, &types.UnknownTypeError{Type: s.lang}
	}

	tmp, err := os.CreateTemp("", "verdict-harness-*."+ext)
	if err != nil {
		return nil, &types.CodeError{Lang: s.lang, Msg: fmt.Sprintf("create harness file: %v", err)}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(wrapper); err != nil {
		tmp.Close()
		return nil, &types.CodeError{Lang: s.lang, Msg: fmt.Sprintf("write harness file: %v", err)}
	}
	if err := tmp.Close(); err != nil {
		return nil, &types.CodeError{Lang: s.lang, Msg: fmt.Sprintf("close harness file: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, tmp.Name())
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Dir = s.workDir

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		msg := err.Error()
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			msg += ": " + truncate(tail, 300)
		}
		return nil, &types.CodeError{Lang: s.lang, Msg: msg}
	}

	var reply codeReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return nil, &types.CodeError{Lang: s.lang, Msg: fmt.Sprintf("malformed harness output %q: %v", truncate(stdout.String(), 200), err)}
	}
	return &reply, nil
}

// coerceResult maps the user function's return onto a GradingResult: bool is
// pass/fail, a number is a score compared against the assertion threshold,
// and an object adopts pass/score/reason/namedScores directly.
func (s *codeStrategy) coerceResult(in *Input, raw json.RawMessage) (*types.GradingResult, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &types.CodeError{Lang: s.lang, Msg: fmt.Sprintf("malformed result: %v", err)}
	}

	switch v := value.(type) {
	case bool:
		if v {
			return passResult(1, "%s assertion returned true", s.lang), nil
		}
		return failResult(0, "%s assertion returned false", s.lang), nil

	case float64:
		pass := v > 0
		if in.Assertion.Threshold != nil {
			pass = v >= *in.Assertion.Threshold
		}
		res := failResult(clamp01(v), "%s assertion scored %.4f", s.lang, v)
		if pass {
			res = passResult(clamp01(v), "%s assertion scored %.4f", s.lang, v)
		}
		return res, nil

	case map[string]any:
		var shape gradeShape
		if err := decodeMap(v, &shape, in.Assertion.Type+".result"); err != nil {
			return nil, &types.CodeError{Lang: s.lang, Msg: fmt.Sprintf("result object: %v", err)}
		}
		if shape.Pass == nil && shape.Score == nil {
			return nil, &types.CodeError{Lang: s.lang, Msg: "result object needs a pass or score field"}
		}
		res := &types.GradingResult{NamedScores: shape.NamedScores, Reason: shape.Reason}
		switch {
		case shape.Pass != nil && shape.Score != nil:
			res.Pass, res.Score = *shape.Pass, clamp01(*shape.Score)
		case shape.Pass != nil:
			res.Pass, res.Score = *shape.Pass, boolToScore(*shape.Pass)
		default:
			res.Score = clamp01(*shape.Score)
			res.Pass = *shape.Score > 0
			if in.Assertion.Threshold != nil {
				res.Pass = *shape.Score >= *in.Assertion.Threshold
			}
		}
		if res.Reason == "" {
			res.Reason = fmt.Sprintf("%s assertion returned pass=%t score=%.4f", s.lang, res.Pass, res.Score)
		}
		return res, nil

	case nil:
		return failResult(0, "%s assertion returned nothing", s.lang), nil

	default:
		return nil, &types.CodeError{Lang: s.lang, Msg: fmt.Sprintf("unsupported result type %T", value)}
	}
}

// resolvePythonBin prefers python3 but verifies it actually runs; some
// platforms register a python3 stub that only prints an install hint.
func resolvePythonBin() string {
	if path, err := exec.LookPath("python3"); err == nil {
		cmd := exec.Command(path, "--version")
		if cmd.Run() == nil {
			return "python3"
		}
	}
	return "python"
}
