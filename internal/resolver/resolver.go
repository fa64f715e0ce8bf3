// Package resolver turns an assertion's raw value into the comparison value a
// strategy consumes: file:// references load from disk, {{var}} placeholders
// render from the test case vars, and arrays resolve element-wise.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/segmentio/encoding/json"
	"gopkg.in/yaml.v3"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// DefaultFunc is the grading function a .js/.py reference exports unless the
// path carries a :name suffix.
const DefaultFunc = "get_assert"

const filePrefix = "file://"

// Callable is a lazily invoked grading function loaded from a file://
// reference. The resolver never executes it; the code strategies do.
type Callable struct {
	Lang string
	Path string
	Func string
}

// placeholderPattern matches simple {{name}} and {{name.path}} placeholders.
// Block helpers and partials pass through to the template engine untouched.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)((?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// Resolver resolves assertion values against a working directory and a
// missing-variable policy.
type Resolver struct {
	workDir string
	policy  string
}

// New builds a Resolver. Policy is types.MissingVarError (default) or
// types.MissingVarEmpty.
func New(workDir, policy string) *Resolver {
	if policy == "" {
		policy = types.MissingVarError
	}
	return &Resolver{workDir: workDir, policy: policy}
}

// WithPolicy returns a copy of the resolver using the given missing-variable
// policy; an empty policy keeps the current one.
func (r *Resolver) WithPolicy(policy string) *Resolver {
	if policy == "" {
		return r
	}
	return &Resolver{workDir: r.workDir, policy: policy}
}

// Resolve prepares a raw assertion value for grading. Strings render their
// placeholders and then load file:// references; arrays resolve element-wise;
// every other shape passes through unchanged.
func (r *Resolver) Resolve(value any, vars map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		rendered, err := r.RenderString(v, vars)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(rendered, filePrefix) {
			return r.loadFile(rendered)
		}
		return rendered, nil
	case []any:
		resolved := make([]any, len(v))
		for i, elem := range v {
			re, err := r.Resolve(elem, vars)
			if err != nil {
				return nil, fmt.Errorf("value[%d]: %w", i, err)
			}
			resolved[i] = re
		}
		return resolved, nil
	default:
		return value, nil
	}
}

// RenderString substitutes {{var}} placeholders from vars. Under the error
// policy a placeholder whose root variable is unset fails before rendering,
// because the template engine would silently render it empty.
func (r *Resolver) RenderString(s string, vars map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	if vars == nil {
		vars = map[string]any{}
	}

	if r.policy == types.MissingVarError {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			root := m[1]
			if _, ok := vars[root]; !ok {
				return "", types.NewResourceError("var "+root, types.ErrVariableUnset)
			}
		}
	}

	tmpl, err := raymond.Parse(s)
	if err != nil {
		return "", types.NewConfigError("value", "template parse: %v", err)
	}
	out, err := tmpl.Exec(vars)
	if err != nil {
		return "", types.NewConfigError("value", "template render: %v", err)
	}
	return out, nil
}

// loadFile resolves a file:// reference by extension: .json and .yaml parse
// into objects, .js and .py become Callables, anything else is raw text.
func (r *Resolver) loadFile(ref string) (any, error) {
	target := strings.TrimPrefix(ref, filePrefix)

	fn := DefaultFunc
	if path, name, ok := splitFuncSuffix(target); ok {
		target, fn = path, name
	}

	path := target
	if !filepath.IsAbs(path) && r.workDir != "" {
		path = filepath.Join(r.workDir, path)
	}

	switch strings.ToLower(filepath.Ext(target)) {
	case ".js":
		if err := statFile(ref, path); err != nil {
			return nil, err
		}
		return &Callable{Lang: "javascript", Path: path, Func: fn}, nil
	case ".py":
		if err := statFile(ref, path); err != nil {
			return nil, err
		}
		return &Callable{Lang: "python", Path: path, Func: fn}, nil
	case ".json":
		data, err := readFile(ref, path)
		if err != nil {
			return nil, err
		}
		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, types.NewConfigError("value", "parse %s: %v", target, err)
		}
		return parsed, nil
	case ".yaml", ".yml":
		data, err := readFile(ref, path)
		if err != nil {
			return nil, err
		}
		var parsed any
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, types.NewConfigError("value", "parse %s: %v", target, err)
		}
		return parsed, nil
	default:
		data, err := readFile(ref, path)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
}

// splitFuncSuffix splits "grader.py:custom_fn" into path and function name.
// Only a suffix after the extension counts; drive-letter style colons inside
// the path do not.
func splitFuncSuffix(target string) (path, fn string, ok bool) {
	idx := strings.LastIndex(target, ":")
	if idx <= 0 {
		return target, "", false
	}
	ext := strings.LastIndex(target[:idx], ".")
	if ext < 0 {
		return target, "", false
	}
	return target[:idx], target[idx+1:], true
}

func statFile(ref, path string) error {
	if _, err := os.Stat(path); err != nil {
		return types.NewResourceError(ref, fmt.Errorf("%w: %v", types.ErrResourceNotFound, err))
	}
	return nil
}

func readFile(ref, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewResourceError(ref, fmt.Errorf("%w: %v", types.ErrResourceNotFound, err))
	}
	return data, nil
}
