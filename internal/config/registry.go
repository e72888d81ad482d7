package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed valid.toml
var validTOML []byte

// Sentinel errors returned while validating a configuration document.
var (
	ErrInvalidSection = errors.New("invalid section")
	ErrInvalidOption  = errors.New("invalid option")
	ErrMissingOption  = errors.New("missing required option")
	ErrInvalidValue   = errors.New("invalid value")
)

// Option kinds understood by the coercion step.
const (
	kindString    = "string"
	kindPath      = "path"
	kindInt       = "int"
	kindFloat     = "float"
	kindBool      = "bool"
	kindLabelset  = "labelset"
	kindStrings   = "string_list"
	kindFloats    = "float_list"
	kindStringMap = "string_map"
)

type optionRegistry map[string]map[string]string

var registry = mustLoadRegistry(validTOML)

func mustLoadRegistry(data []byte) optionRegistry {
	reg := optionRegistry{}
	if err := toml.Unmarshal(data, &reg); err != nil {
		panic(fmt.Sprintf("config: embedded valid.toml: %v", err))
	}
	return reg
}

func (r optionRegistry) hasSection(name string) bool {
	_, ok := r[name]
	return ok
}

func (r optionRegistry) kind(section, option string) (string, bool) {
	options, ok := r[section]
	if !ok {
		return "", false
	}
	kind, ok := options[option]
	return kind, ok
}

// ValidOptions returns the sorted option names accepted by section.
func ValidOptions(section string) []string {
	options := registry[section]
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OptionKind reports the declared type of an option.
func OptionKind(section, option string) (string, bool) {
	return registry.kind(section, option)
}

// ValidateSections checks that every top-level table in doc is either a known
// section or belongs to a model named in one of the `models` options.
func ValidateSections(doc map[string]any, path string) error {
	models := declaredModels(doc)
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, isTable := doc[name].(map[string]any); !isTable {
			return fmt.Errorf("%w: top-level key %q in %s is not a table", ErrInvalidSection, name, displayPath(path))
		}
		if registry.hasSection(name) {
			continue
		}
		if _, ok := models[name]; ok {
			continue
		}
		return fmt.Errorf("%w: section %q in %s is not valid (valid sections: %s)",
			ErrInvalidSection, name, displayPath(path), strings.Join(knownSections(models), ", "))
	}
	return nil
}

// ValidateOptions checks that every option in section is declared for it.
func ValidateOptions(doc map[string]any, section, path string) error {
	table, ok := doc[section].(map[string]any)
	if !ok {
		return nil
	}
	options := make([]string, 0, len(table))
	for option := range table {
		options = append(options, option)
	}
	sort.Strings(options)
	for _, option := range options {
		if _, ok := registry.kind(section, option); !ok {
			return fmt.Errorf("%w: %q in section %s of %s is not a valid option",
				ErrInvalidOption, option, section, displayPath(path))
		}
	}
	return nil
}

func declaredModels(doc map[string]any) map[string]struct{} {
	models := map[string]struct{}{}
	for section := range registry {
		table, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		raw, ok := table["models"]
		if !ok {
			continue
		}
		names, err := coerceStrings(raw)
		if err != nil {
			continue
		}
		for _, name := range names {
			models[name] = struct{}{}
		}
	}
	return models
}

func knownSections(models map[string]struct{}) []string {
	names := make([]string, 0, len(registry)+len(models))
	for name := range registry {
		names = append(names, name)
	}
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func displayPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return "config"
	}
	return path
}

// coerceSection converts raw TOML values into the canonical representation
// of each option's declared kind so the typed decode cannot fail on benign
// differences such as an integer written where a float is expected.
func (r optionRegistry) coerceSection(section string, table map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(table))
	for option, raw := range table {
		kind, ok := r.kind(section, option)
		if !ok {
			return nil, fmt.Errorf("%w: %q in section %s", ErrInvalidOption, option, section)
		}
		value, err := coerceValue(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, section, option, err)
		}
		out[option] = value
	}
	return out, nil
}

func coerceValue(kind string, raw any) (any, error) {
	switch kind {
	case kindString, kindPath:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %s", typeName(raw))
		}
		return s, nil
	case kindInt:
		return coerceInt(raw)
	case kindFloat:
		return coerceFloat(raw)
	case kindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %s", typeName(raw))
		}
		return b, nil
	case kindLabelset:
		labels, err := ParseLabelset(raw)
		if err != nil {
			return nil, err
		}
		return toAnySlice(labels), nil
	case kindStrings:
		values, err := coerceStrings(raw)
		if err != nil {
			return nil, err
		}
		return toAnySlice(values), nil
	case kindFloats:
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array of numbers, got %s", typeName(raw))
		}
		out := make([]any, 0, len(list))
		for i, item := range list {
			f, err := coerceFloat(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %v", i, err)
			}
			out = append(out, f)
		}
		return out, nil
	case kindStringMap:
		table, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected table, got %s", typeName(raw))
		}
		out := make(map[string]any, len(table))
		for key, value := range table {
			switch v := value.(type) {
			case string:
				out[key] = v
			case int64:
				out[key] = strconv.FormatInt(v, 10)
			case bool:
				out[key] = strconv.FormatBool(v)
			default:
				return nil, fmt.Errorf("key %q: expected string, got %s", key, typeName(value))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown option kind %q", kind)
	}
}

func coerceInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected integer, got %s", typeName(raw))
	}
}

func coerceFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %s", typeName(raw))
	}
}

// coerceStrings accepts a single string or an array of strings.
func coerceStrings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}
		return []string{trimmed}, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected string, got %s", i, typeName(item))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or array of strings, got %s", typeName(raw))
	}
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nothing"
	case string:
		return "string"
	case int64:
		return "integer"
	case float64:
		return "float"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "table"
	default:
		return fmt.Sprintf("%T", v)
	}
}
