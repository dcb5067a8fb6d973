package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	watcherschema "github.com/Paintersrp/zombie-watcher/schema"
)

var (
	schemaOnce    sync.Once
	watcherSchema *jsonschema.Schema
	schemaErr     error
)

func loadWatcherSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("watcher.v1.json", bytes.NewReader(watcherschema.WatcherV1Schema)); err != nil {
			schemaErr = fmt.Errorf("add watcher schema resource: %w", err)
			return
		}
		watcherSchema, schemaErr = compiler.Compile("watcher.v1.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile watcher schema: %w", schemaErr)
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	return watcherSchema, nil
}

func validateAgainstSchema(doc map[string]any) error {
	schema, err := loadWatcherSchema()
	if err != nil {
		return fmt.Errorf("load watcher schema: %w", err)
	}

	normalized, err := normalizeForSchema(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		if vErr, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("schema validation failed:\n%s", formatViolations(normalized, vErr))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// normalizeForSchema round-trips doc through JSON so YAML and TOML decoders
// hand the validator the same value shapes.
func normalizeForSchema(doc map[string]any) (any, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(doc); err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// durationFields hold Go duration strings in config files.
var durationFields = map[string]bool{
	"interval": true,
	"maxAge":   true,
}

// violation is a leaf schema failure. ptr is the JSON pointer into the
// document, keyword the failing schema keyword.
type violation struct {
	ptr     string
	path    string
	keyword string
	message string
}

func collectViolations(err *jsonschema.ValidationError, out []violation) []violation {
	if len(err.Causes) == 0 {
		keyword := err.KeywordLocation
		if idx := strings.LastIndex(keyword, "/"); idx >= 0 {
			keyword = keyword[idx+1:]
		}
		return append(out, violation{
			ptr:     err.InstanceLocation,
			path:    formatInstanceLocation(err.InstanceLocation),
			keyword: keyword,
			message: err.Message,
		})
	}
	for _, cause := range err.Causes {
		out = collectViolations(cause, out)
	}
	return out
}

// formatViolations renders one "- path: message" line per failure, sorted by
// path so base[] entries read in order.
func formatViolations(doc any, err *jsonschema.ValidationError) string {
	violations := collectViolations(err, nil)
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].path < violations[j].path
	})

	var b strings.Builder
	seen := make(map[string]bool, len(violations))
	for _, v := range violations {
		line := fmt.Sprintf("- %s: %s", v.path, describeViolation(doc, v))
		if seen[line] {
			continue
		}
		seen[line] = true
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeViolation(doc any, v violation) string {
	switch {
	case v.keyword == "pattern" && durationFields[v.path]:
		return "must be a Go duration such as 500ms, 1s or 30m"
	case (v.keyword == "minimum" || v.keyword == "maximum") && strings.HasPrefix(v.path, "base["):
		if value, ok := instanceValue(doc, v.ptr); ok {
			return fmt.Sprintf("port %v is outside 1-65535", value)
		}
		return "port is outside 1-65535"
	case v.keyword == "minItems" && v.path == "base":
		return "at least one base port is required"
	default:
		return v.message
	}
}

// instanceValue resolves a JSON pointer against the normalized document.
func instanceValue(doc any, ptr string) (any, bool) {
	current := doc
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = unescapePointer(segment)
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func unescapePointer(segment string) string {
	return strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
}

func formatInstanceLocation(ptr string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		decoded := unescapePointer(segment)
		if _, err := strconv.Atoi(decoded); err == nil {
			fmt.Fprintf(&b, "[%s]", decoded)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(decoded)
	}
	if b.Len() == 0 {
		return "config"
	}
	return b.String()
}
