// Package testutils holds assertion helpers for command output.
package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the part of testing.T the asserters need.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// TextAssertOptions controls how texts are normalized before comparison.
type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	StripColors              bool `default:"true"`
	EnableColors             bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares command output and reports a unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates a TextAsserter with default options.
func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	options := TextAssertOptions{}
	defaults.SetDefaults(&options)
	for _, opt := range opts {
		opt(&options)
	}
	return &TextAsserter{t: t, options: options}
}

// Assert fails the test when actual differs from expected after normalization.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	if diff := ta.Diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

// Diff returns the unified diff from expected to actual, or "" when equal.
func (ta *TextAsserter) Diff(actual, expected string) string {
	want := ta.normalize(expected)
	got := ta.normalize(actual)
	if want == got {
		return ""
	}

	edits := myers.ComputeEdits("", want, got)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, edits))
	if !ta.options.EnableColors {
		return unified
	}
	return colorize(unified)
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(visibleWhitespace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(visibleWhitespace(line))
		}
	}
	return strings.Join(lines, "\n")
}

func visibleWhitespace(line string) string {
	return strings.NewReplacer(" ", "·", "\t", "→").Replace(line)
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.StripColors {
		text = StripANSI(text)
	}
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// StripANSI removes SGR escape sequences.
func StripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] == ';' || (s[j] >= '0' && s[j] <= '9')) {
				j++
			}
			if j < len(s) && s[j] == 'm' {
				i = j
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// WithIgnoreEmptyLines sets whether to ignore empty lines
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.IgnoreEmptyLines = ignore
	}
}

// WithTrimSpace sets whether to trim leading and trailing whitespace from entire text
func WithTrimSpace(trim bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.TrimSpace = trim
	}
}

// WithEnableColors sets whether to enable colored diff output
func WithEnableColors(enable bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.EnableColors = enable
	}
}
