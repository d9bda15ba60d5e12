// SPDX-License-Identifier: MIT

// Package template substitutes {{path.to.var}} placeholders inside decoded
// JSON trees. It is used in both directions of a proxied service call:
// building the outbound request from user parameters and reshaping the
// upstream response into a stable contract.
package template

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const (
	delimOpen  = "{{"
	delimClose = "}}"
)

// Render walks the template tree and substitutes placeholders in string
// leaves with values from vars. Lookup failures leave the placeholder text
// in place: one bad path must not abort an entire response mapping.
//
// The walk is exhaustive over the shapes encoding/json decodes into:
// map[string]any, []any, string, float64, bool and nil. Inputs are never
// mutated; the function is safe for concurrent use.
func Render(tmpl any, vars map[string]any, logger zerolog.Logger) any {
	switch node := tmpl.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, v := range node {
			out[k] = Render(v, vars, logger)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, v := range node {
			out[i] = Render(v, vars, logger)
		}
		return out
	case string:
		return renderString(node, vars, logger)
	default:
		// float64, bool, nil: nothing to substitute.
		return node
	}
}

// renderString replaces every {{...}} occurrence in s. A placeholder whose
// entire string is a single placeholder would still render to the value's
// string form; partial resolution keeps surrounding literal text.
func renderString(s string, vars map[string]any, logger zerolog.Logger) string {
	if !strings.Contains(s, delimOpen) {
		return s
	}
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, delimOpen)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], delimClose)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])

		raw := rest[start : end+len(delimClose)]
		path := strings.TrimSpace(rest[start+len(delimOpen) : end])

		if value, ok := resolve(path, vars); ok {
			b.WriteString(stringify(value))
		} else {
			logger.Debug().Str("path", path).Msg("template variable not found, leaving placeholder")
			b.WriteString(raw)
		}
		rest = rest[end+len(delimClose):]
	}
	return b.String()
}

// resolve walks vars by successive map lookups along the dotted path.
// Array indices are not supported.
func resolve(path string, vars map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringify renders a resolved value into the host string. JSON numbers
// decode as float64; integral values print without the trailing ".0" so a
// rendered id or count round-trips cleanly.
func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%g", value)
	case bool:
		return fmt.Sprintf("%t", value)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}

// ExtractVariableNames returns the sorted set of root identifiers referenced
// by any placeholder in the template. Everything before the first "." of a
// placeholder body counts as the root; literal text outside placeholders is
// ignored. The result defines a descriptor's required input parameters.
func ExtractVariableNames(tmpl any) []string {
	set := make(map[string]struct{})
	collectVariables(tmpl, set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func collectVariables(tmpl any, set map[string]struct{}) {
	switch node := tmpl.(type) {
	case map[string]any:
		for _, v := range node {
			collectVariables(v, set)
		}
	case []any:
		for _, v := range node {
			collectVariables(v, set)
		}
	case string:
		rest := node
		for {
			start := strings.Index(rest, delimOpen)
			if start < 0 {
				return
			}
			end := strings.Index(rest[start:], delimClose)
			if end < 0 {
				return
			}
			end += start
			body := strings.TrimSpace(rest[start+len(delimOpen) : end])
			if body != "" {
				root := strings.SplitN(body, ".", 2)[0]
				set[root] = struct{}{}
			}
			rest = rest[end+len(delimClose):]
		}
	}
}
