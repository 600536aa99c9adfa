package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// boundPrefix names the variables that stand in for placeholders in expression source.
const boundPrefix = "flowrunArg"

// ErrUnsafeLiteral is returned when a placeholder value cannot be embedded in a
// raw string literal without ending it early.
var ErrUnsafeLiteral = errors.New("placeholder value cannot be embedded in a raw string literal")

// BindExpression prepares expression source that contains placeholders for
// evaluation. Looked-up values never become part of the code:
//
//   - a placeholder outside string literals is replaced by a variable bound to
//     the typed value (nil when the path does not resolve);
//   - a placeholder inside a quoted literal is replaced by the escaped string
//     form of the value, so it stays inside that literal.
//
// The returned map is data plus the bound variables; data itself is not modified.
func BindExpression(source string, data map[string]any) (string, map[string]any, error) {
	if !strings.Contains(source, "{{") {
		return source, data, nil
	}

	bindings := make(map[string]any, len(data)+1)
	for k, v := range data {
		bindings[k] = v
	}

	var (
		out   strings.Builder
		quote byte
		raw   bool
		bound int
	)

	for i := 0; i < len(source); {
		if strings.HasPrefix(source[i:], "{{") {
			if loc := placeholderPattern.FindStringSubmatchIndex(source[i:]); loc != nil && loc[0] == 0 {
				path := source[i+loc[2] : i+loc[3]]
				value, found := Lookup(data, path)

				if quote == 0 {
					name := freeName(bindings, &bound)
					bindings[name] = value
					out.WriteString(name)
				} else {
					text := source[i : i+loc[1]]
					if found {
						text = Stringify(value)
					}

					escaped, err := escapeLiteral(text, quote, raw)
					if err != nil {
						return "", nil, fmt.Errorf("%w: %s", err, path)
					}

					out.WriteString(escaped)
				}

				i += loc[1]

				continue
			}
		}

		c := source[i]

		switch {
		case quote == 0:
			if c == '"' || c == '\'' || c == '`' {
				quote = c
				raw = c == '`' || rawPrefix(source, i)
			}
		case c == '\\' && !raw && i+1 < len(source):
			out.WriteByte(c)
			out.WriteByte(source[i+1])
			i += 2

			continue
		case c == quote:
			quote = 0
		}

		out.WriteByte(c)
		i++
	}

	return out.String(), bindings, nil
}

func freeName(bindings map[string]any, n *int) string {
	for {
		name := boundPrefix + strconv.Itoa(*n)
		*n++

		if _, taken := bindings[name]; !taken {
			return name
		}
	}
}

// rawPrefix reports whether the quote at i opens a CEL raw string (r"..." or R'...').
func rawPrefix(source string, i int) bool {
	if i == 0 || (source[i-1] != 'r' && source[i-1] != 'R') {
		return false
	}

	return i == 1 || !isIdentByte(source[i-2])
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func escapeLiteral(text string, quote byte, raw bool) (string, error) {
	if raw {
		if strings.IndexByte(text, quote) >= 0 {
			return "", ErrUnsafeLiteral
		}

		return text, nil
	}

	quoted := strconv.Quote(text)
	inner := quoted[1 : len(quoted)-1]

	if quote == '\'' {
		inner = strings.ReplaceAll(inner, "'", `\'`)
	}

	return inner, nil
}
