package resolver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// LoadTemplateLibrary reads a YAML assertion-template library.
func LoadTemplateLibrary(path string) ([]types.AssertionTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewResourceError(path, fmt.Errorf("%w: %v", types.ErrResourceNotFound, err))
	}
	var lib []types.AssertionTemplate
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, types.NewConfigError("library", "parse %s: %v", path, err)
	}
	for i, tpl := range lib {
		if tpl.Name == "" {
			return nil, types.NewConfigError("library", "template %d has no name", i)
		}
	}
	return lib, nil
}

// ExpandRefs replaces every $ref assertion with its library definition,
// recursively through nested assert-sets. Threshold, weight, metric,
// provider, and config set on the referencing assertion override the
// template's values. Happens once, before grading begins.
func ExpandRefs(asserts []types.Assertion, lib []types.AssertionTemplate) ([]types.Assertion, error) {
	byName := make(map[string]types.Assertion, len(lib))
	for _, tpl := range lib {
		byName[tpl.Name] = tpl.Assert
	}
	out := make([]types.Assertion, len(asserts))
	for i, a := range asserts {
		expanded, err := expandOne(a, byName, nil)
		if err != nil {
			return nil, fmt.Errorf("assert[%d]: %w", i, err)
		}
		out[i] = expanded
	}
	return out, nil
}

func expandOne(a types.Assertion, byName map[string]types.Assertion, seen []string) (types.Assertion, error) {
	if a.Ref != "" {
		if a.Type != "" {
			return a, types.NewConfigError("$ref", "assertion referencing %q cannot also set type", a.Ref)
		}
		for _, name := range seen {
			if name == a.Ref {
				return a, types.NewConfigError("$ref", "template cycle through %q", a.Ref)
			}
		}
		tpl, ok := byName[a.Ref]
		if !ok {
			return a, types.NewConfigError("$ref", "unknown template %q", a.Ref)
		}
		merged := tpl
		if a.Value != nil {
			merged.Value = a.Value
		}
		if a.Threshold != nil {
			merged.Threshold = a.Threshold
		}
		if a.Weight != nil {
			merged.Weight = a.Weight
		}
		if a.Provider != "" {
			merged.Provider = a.Provider
		}
		if a.Metric != "" {
			merged.Metric = a.Metric
		}
		if a.ContextPath != "" {
			merged.ContextPath = a.ContextPath
		}
		if len(a.Config) > 0 {
			cfg := make(map[string]any, len(merged.Config)+len(a.Config))
			for k, v := range merged.Config {
				cfg[k] = v
			}
			for k, v := range a.Config {
				cfg[k] = v
			}
			merged.Config = cfg
		}
		return expandOne(merged, byName, append(seen, a.Ref))
	}

	if len(a.Assert) > 0 {
		children := make([]types.Assertion, len(a.Assert))
		for i, child := range a.Assert {
			expanded, err := expandOne(child, byName, seen)
			if err != nil {
				return a, fmt.Errorf("assert[%d]: %w", i, err)
			}
			children[i] = expanded
		}
		a.Assert = children
	}
	return a, nil
}
