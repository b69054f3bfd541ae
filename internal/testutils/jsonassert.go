package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence matches any value of an expected key.
const Presence = "<<PRESENCE>>"

// JSONAssertOptions controls JSON comparison.
type JSONAssertOptions struct {
	IgnoreExtraKeys          bool `default:"true"`
	AllowPresencePlaceholder bool `default:"true"`
}

// JSONOption is a functional option for configuring JSONAsserter
type JSONOption func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	options := JSONAssertOptions{}
	defaults.SetDefaults(&options)
	for _, opt := range opts {
		opt(&options)
	}
	return &JSONAsserter{t: t, options: options}
}

// WithIgnoreExtraKeys sets whether keys missing from the expected document are ignored.
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

// Assert fails the test when actualJSON does not match expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	ja.t.Helper()
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// Diff returns a readable diff, or "" when the documents match.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if _, ok := expected.([]interface{}); ok {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		fillPresence(expected, actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, err := json.Marshal(expected)
	if err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	actualBytes, err := json.Marshal(actual)
	if err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}
	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	left, ok := expected.(map[string]interface{})
	if !ok {
		return fmt.Sprintf("JSON root must be an object or array, got %T", expected)
	}
	f := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON diff formatting failed: %v", err)
	}
	return out
}

// fillPresence copies the actual value into every Presence placeholder that
// has a counterpart.
func fillPresence(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == Presence {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			fillPresence(v, act[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				fillPresence(exp[i], act[i])
			}
		}
	}
}

// pruneExtraKeys removes object keys from actual that expected does not have.
func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}
