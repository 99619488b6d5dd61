// Package text expands ${name} placeholders in target settings and hook
// commands.
package text

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"gitlab.com/tozd/go/errors"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Values maps placeholder names to their replacement
type Values map[string]string

// With returns a copy of v with key set to value
func (v Values) With(key, value string) Values {
	out := make(Values, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	out[key] = value
	return out
}

// Merge returns a copy of v overlaid with other
func (v Values) Merge(other map[string]string) Values {
	out := make(Values, len(v)+len(other))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range other {
		out[k] = val
	}
	return out
}

func (v Values) lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if env, ok := strings.CutPrefix(name, "env:"); ok {
		return os.LookupEnv(strings.TrimSpace(env))
	}
	val, ok := v[name]
	return val, ok
}

// Result is the outcome of one expansion
type Result struct {
	Text             string
	ReplacementCount int
	WasModified      bool
}

// Replace expands every known placeholder in s. ${env:NAME} reads the
// environment. Unknown placeholders are left untouched.
func (v Values) Replace(s string) Result {
	result := Result{}
	result.Text = placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		val, ok := v.lookup(name)
		if !ok {
			return match
		}
		result.ReplacementCount++
		return val
	})
	result.WasModified = result.ReplacementCount > 0
	return result
}

// Expand is Replace returning only the text
func (v Values) Expand(s string) string {
	return v.Replace(s).Text
}

// ExpandJSON expands placeholders in every string value of a JSON document
func (v Values) ExpandJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Errorf("parsing settings: %w", err)
	}
	out, err := json.Marshal(v.expandAny(doc))
	if err != nil {
		return nil, errors.Errorf("encoding settings: %w", err)
	}
	return out, nil
}

func (v Values) expandAny(doc any) any {
	switch d := doc.(type) {
	case string:
		return v.Expand(d)
	case []any:
		for i := range d {
			d[i] = v.expandAny(d[i])
		}
		return d
	case map[string]any:
		for k := range d {
			d[k] = v.expandAny(d[k])
		}
		return d
	default:
		return doc
	}
}
