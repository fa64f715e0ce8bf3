package assertion

import (
	"context"
	"crypto/sha256"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/segmentio/encoding/json"
	"github.com/verdictlabs/verdict/engine/pkg/types"
	"github.com/xwb1989/sqlparser"
	"golang.org/x/net/html"
)

// schemaCache is a process-level cache of compiled JSON schemas keyed by
// SHA-256 of the canonical schema bytes.
var schemaCache sync.Map // map[string]*jsonschema.Schema

// jsonStrategy implements is-json and contains-json. A schema may come from
// config.schema or from the assertion value; without one the check is pure
// validity.
type jsonStrategy struct {
	contains bool
}

type jsonConfig struct {
	Schema map[string]any
}

func (s *jsonStrategy) Remote() bool { return false }

func (s *jsonStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	var cfg jsonConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}

	doc := strings.TrimSpace(in.Output)
	if s.contains {
		frag, ok := extractJSON(in.Output)
		if !ok {
			return failResult(0, "no JSON object or array found in output"), nil
		}
		doc = frag
	}

	var value any
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		return failResult(0, "output is not valid JSON: %v", err), nil
	}

	schemaDoc, err := schemaSource(cfg.Schema, in.Value)
	if err != nil {
		return nil, err
	}
	if schemaDoc == nil {
		if s.contains {
			return passResult(1, "output contains valid JSON"), nil
		}
		return passResult(1, "output is valid JSON"), nil
	}

	schema, err := compileSchema(schemaDoc)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaves := flattenCauses(ve)
			res := failResult(0, "JSON schema validation failed with %d violation(s)", len(leaves))
			res.ComponentResults = make([]types.GradingResult, len(leaves))
			for i, leaf := range leaves {
				res.ComponentResults[i] = types.GradingResult{Pass: false, Score: 0, Reason: leaf.Error()}
			}
			return res, nil
		}
		return failResult(0, "JSON schema validation failed: %v", err), nil
	}
	return passResult(1, "output is valid JSON matching the schema"), nil
}

// schemaSource picks the JSON schema document: config.schema wins, then a
// map-or-string assertion value. Nil means validity-only.
func schemaSource(cfgSchema map[string]any, value any) (any, error) {
	if len(cfgSchema) > 0 {
		return cfgSchema, nil
	}
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		var doc any
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			return nil, &types.SchemaError{Msg: fmt.Sprintf("schema value is not valid JSON: %v", err)}
		}
		return doc, nil
	default:
		return nil, nil
	}
}

// compileSchema compiles a schema document, serving repeats from the
// process-level cache.
func compileSchema(doc any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &types.SchemaError{Msg: err.Error()}
	}
	cacheKey := fmt.Sprintf("%x", sha256.Sum256(raw))
	if cached, ok := schemaCache.Load(cacheKey); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, &types.SchemaError{Msg: err.Error()}
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, &types.SchemaError{Msg: err.Error()}
	}
	schemaCache.Store(cacheKey, compiled)
	return compiled, nil
}

func flattenCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var leaves []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		leaves = append(leaves, flattenCauses(c)...)
	}
	return leaves
}

// extractJSON returns the first balanced JSON object or array embedded in s.
func extractJSON(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '{' && c != '[' {
			continue
		}
		end, ok := balancedEnd(s, i)
		if !ok {
			continue
		}
		frag := s[i : end+1]
		if json.Valid([]byte(frag)) {
			return frag, true
		}
	}
	return "", false
}

// balancedEnd scans from an opening brace or bracket to its matching close,
// skipping string literals and escapes.
func balancedEnd(s string, start int) (int, bool) {
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// xmlStrategy implements is-xml and contains-xml. Required elements are
// dotted paths from the root, taken from config.requiredElements or from the
// assertion value.
type xmlStrategy struct {
	contains bool
}

type xmlConfig struct {
	RequiredElements []string
}

func (s *xmlStrategy) Remote() bool { return false }

func (s *xmlStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	var cfg xmlConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}
	required := cfg.RequiredElements
	if len(required) == 0 && in.Value != nil {
		list, err := referenceStrings(in.Assertion, in.Value)
		if err != nil {
			return nil, err
		}
		required = list
	}

	if s.contains {
		fragments := xmlFragments(in.Output)
		if len(fragments) == 0 {
			return failResult(0, "no well-formed XML found in output"), nil
		}
		if len(required) == 0 {
			return passResult(1, "output contains well-formed XML"), nil
		}
		for _, paths := range fragments {
			if missing := missingPaths(paths, required); len(missing) == 0 {
				return passResult(1, "output contains XML with all required elements"), nil
			}
		}
		return failResult(0, "XML found but required elements missing: %s", strings.Join(missingPaths(fragments[0], required), ", ")), nil
	}

	paths, err := xmlElementPaths(strings.TrimSpace(in.Output))
	if err != nil {
		return failResult(0, "output is not well-formed XML: %v", err), nil
	}
	if missing := missingPaths(paths, required); len(missing) > 0 {
		return failResult(0, "XML missing required elements: %s", strings.Join(missing, ", ")), nil
	}
	if len(required) > 0 {
		return passResult(1, "output is well-formed XML with all required elements"), nil
	}
	return passResult(1, "output is well-formed XML"), nil
}

// xmlElementPaths parses s as a single-root XML document and returns the set
// of dotted element paths.
func xmlElementPaths(s string) (map[string]bool, error) {
	dec := xml.NewDecoder(strings.NewReader(s))
	paths := make(map[string]bool)
	var stack []string
	roots := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 {
				roots++
				if roots > 1 {
					return nil, errors.New("multiple root elements")
				}
			}
			stack = append(stack, t.Name.Local)
			paths[strings.Join(stack, ".")] = true
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.New("unexpected closing tag")
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 && len(strings.TrimSpace(string(t))) > 0 {
				return nil, errors.New("text outside root element")
			}
		}
	}
	if roots == 0 {
		return nil, errors.New("no elements found")
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("unclosed element <%s>", stack[len(stack)-1])
	}
	return paths, nil
}

// xmlFragments scans arbitrary text for complete XML elements and returns the
// element path set of each one found.
func xmlFragments(output string) []map[string]bool {
	var fragments []map[string]bool
	for i := 0; i < len(output); i++ {
		if output[i] != '<' {
			continue
		}
		if i+1 < len(output) && (output[i+1] == '/' || output[i+1] == '?' || output[i+1] == '!') {
			continue
		}
		paths, consumed, ok := parseOneElement(output[i:])
		if !ok {
			continue
		}
		fragments = append(fragments, paths)
		i += consumed - 1
	}
	return fragments
}

// parseOneElement decodes a single complete element from the head of s,
// returning its paths and the number of bytes consumed.
func parseOneElement(s string) (map[string]bool, int, bool) {
	dec := xml.NewDecoder(strings.NewReader(s))
	paths := make(map[string]bool)
	var stack []string
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, 0, false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			paths[strings.Join(stack, ".")] = true
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return paths, int(dec.InputOffset()), true
			}
		case xml.CharData:
			if len(stack) == 0 && len(strings.TrimSpace(string(t))) > 0 {
				return nil, 0, false
			}
		}
	}
}

func missingPaths(paths map[string]bool, required []string) []string {
	var missing []string
	for _, want := range required {
		if !paths[want] {
			missing = append(missing, want)
		}
	}
	return missing
}

// htmlStrategy implements contains-html: the output must contain at least one
// real element beyond the parser's implicit html/head/body skeleton.
type htmlStrategy struct{}

type htmlConfig struct {
	RequiredElements []string
}

func (s *htmlStrategy) Remote() bool { return false }

func (s *htmlStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	var cfg htmlConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}

	root, err := html.Parse(strings.NewReader(in.Output))
	if err != nil {
		return failResult(0, "output could not be parsed as HTML: %v", err), nil
	}

	tags := make(map[string]int)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "html", "head", "body":
			default:
				tags[strings.ToLower(n.Data)]++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if len(tags) == 0 {
		return failResult(0, "no HTML elements found in output"), nil
	}
	var missing []string
	for _, want := range cfg.RequiredElements {
		if tags[strings.ToLower(want)] == 0 {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return failResult(0, "HTML missing required elements: %s", strings.Join(missing, ", ")), nil
	}
	total := 0
	for _, n := range tags {
		total += n
	}
	return passResult(1, "output contains HTML (%d elements)", total), nil
}

// sqlStrategy implements is-sql. Only the mysql dialect parses; allowedTables
// and allowedColumns restrict the identifiers the statement may reference.
type sqlStrategy struct{}

type sqlConfig struct {
	DatabaseType   string
	AllowedTables  []string
	AllowedColumns []string
}

func (s *sqlStrategy) Remote() bool { return false }

func (s *sqlStrategy) Evaluate(_ context.Context, in *Input) (*types.GradingResult, error) {
	var cfg sqlConfig
	if err := decodeConfig(in.Assertion, &cfg); err != nil {
		return nil, err
	}
	if cfg.DatabaseType != "" && !strings.EqualFold(cfg.DatabaseType, "mysql") {
		return nil, types.NewConfigError(types.TypeIsSQL+".config", "unsupported databaseType %q: only mysql is supported", cfg.DatabaseType)
	}

	stmt, err := sqlparser.Parse(strings.TrimSpace(in.Output))
	if err != nil {
		return failResult(0, "output is not valid SQL: %v", err), nil
	}

	tables, columns := sqlIdentifiers(stmt)
	if len(cfg.AllowedTables) > 0 {
		if bad := disallowedIdentifiers(tables, cfg.AllowedTables); len(bad) > 0 {
			return failResult(0, "statement references disallowed tables: %s", strings.Join(bad, ", ")), nil
		}
	}
	if len(cfg.AllowedColumns) > 0 {
		if bad := disallowedIdentifiers(columns, cfg.AllowedColumns); len(bad) > 0 {
			return failResult(0, "statement references disallowed columns: %s", strings.Join(bad, ", ")), nil
		}
	}
	return passResult(1, "output is valid SQL"), nil
}

// sqlIdentifiers walks the statement AST collecting referenced table and
// column names.
func sqlIdentifiers(stmt sqlparser.Statement) (tables, columns map[string]bool) {
	tables = make(map[string]bool)
	columns = make(map[string]bool)
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case sqlparser.TableName:
			if name := n.Name.String(); name != "" && name != "dual" {
				tables[strings.ToLower(name)] = true
			}
		case *sqlparser.ColName:
			if name := n.Name.String(); name != "" {
				columns[strings.ToLower(name)] = true
			}
		}
		return true, nil
	}, stmt)
	return tables, columns
}

func disallowedIdentifiers(seen map[string]bool, allowed []string) []string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[strings.ToLower(a)] = true
	}
	var bad []string
	for name := range seen {
		if !allowedSet[name] {
			bad = append(bad, name)
		}
	}
	sort.Strings(bad)
	return bad
}
