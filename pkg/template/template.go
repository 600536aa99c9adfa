// Package template resolves {{dotted.path}} placeholders against an execution context.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)
	singlePattern      = regexp.MustCompile(`^\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}$`)
)

// Resolve walks strings, slices and maps and substitutes placeholders with
// values looked up in data. A string that is exactly one placeholder resolves
// to the raw typed value; otherwise every placeholder is replaced by the
// string form of its value. Unresolvable placeholders are left untouched.
func Resolve(value any, data map[string]any) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, data)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, data)
		}

		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			out[k] = ResolveString(item, data)
		}

		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = ResolveString(item, data)
		}

		return out
	default:
		return v
	}
}

// ResolveString resolves a string and always returns its string form.
func ResolveString(input string, data map[string]any) string {
	return Stringify(resolveString(input, data))
}

// HasPlaceholders reports whether input contains at least one placeholder.
func HasPlaceholders(input string) bool {
	return placeholderPattern.MatchString(input)
}

func resolveString(input string, data map[string]any) any {
	if !strings.Contains(input, "{{") {
		return input
	}

	if match := singlePattern.FindStringSubmatch(input); match != nil {
		if found, ok := Lookup(data, match[1]); ok {
			return found
		}

		return input
	}

	return placeholderPattern.ReplaceAllStringFunc(input, func(token string) string {
		path := placeholderPattern.FindStringSubmatch(token)[1]

		found, ok := Lookup(data, path)
		if !ok {
			return token
		}

		return Stringify(found)
	})
}

// Lookup follows a dotted path through nested maps and slices. Numeric
// segments index into slices.
func Lookup(data map[string]any, path string) (any, bool) {
	var current any = data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case map[string]string:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// Stringify converts a resolved value to the text substituted into strings.
// Structures are rendered as JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}
