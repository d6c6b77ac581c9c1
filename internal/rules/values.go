package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// asMap returns v as a string-keyed mapping. YAML decoders produce either
// map[string]any or map[any]any depending on the key types present.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[Scalar(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// asList wraps a scalar or mapping into a one-element list. nil yields nil.
func asList(v any) []any {
	switch l := v.(type) {
	case nil:
		return nil
	case []any:
		return l
	default:
		return []any{v}
	}
}

// Scalar renders a YAML scalar as a string. Non-scalars are rendered with
// Canonical.
func Scalar(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case uint64:
		return strconv.FormatUint(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.Format(time.RFC3339)
	case fmt.Stringer:
		return s.String()
	default:
		return Canonical(v)
	}
}

// Canonical renders any decoded YAML value as a deterministic string:
// scalars as themselves, collections as JSON with sorted keys.
func Canonical(v any) string {
	switch v.(type) {
	case nil, string, bool, int, int64, uint64, float64, time.Time:
		return Scalar(v)
	}
	data, err := json.Marshal(normalize(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func normalize(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = normalize(val)
		}
		return out
	}
	if l, ok := v.([]any); ok {
		out := make([]any, len(l))
		for i, val := range l {
			out[i] = normalize(val)
		}
		return out
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return v
}

// stringList flattens a scalar, list or comma-separated string into trimmed,
// non-empty strings.
func stringList(v any) []string {
	var out []string
	for _, item := range asList(v) {
		s, isString := item.(string)
		if !isString {
			if str := Scalar(item); str != "" {
				out = append(out, str)
			}
			continue
		}
		if strings.Contains(s, "{{") {
			out = append(out, strings.TrimSpace(s))
			continue
		}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// scalarList is like stringList without comma splitting.
func scalarList(v any) []string {
	var out []string
	for _, item := range asList(v) {
		out = append(out, Scalar(item))
	}
	return out
}

// stringMap renders a mapping's values canonically.
func stringMap(v any) map[string]string {
	m, ok := asMap(v)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = Canonical(val)
	}
	return out
}

func str(m map[string]any, key string) string {
	return Scalar(m[key])
}

// first returns the value of the first key present in m.
func first(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// disabled reports whether a trigger, condition or step is switched off with
// enabled: false.
func disabled(m map[string]any) bool {
	b, ok := m["enabled"].(bool)
	return ok && !b
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
