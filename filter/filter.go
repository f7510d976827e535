// Package filter decides which tests are eligible to run from include and exclude glob lists.
//
// Patterns are case-sensitive ant-style globs matched against a test's qualified name:
//   - A single asterisk (*) matches any run of characters within one path element
//   - A question mark (?) matches any single character
//   - A double asterisk (**) matches zero or more path elements
package filter

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExclude is always part of the exclude list. Vendored trees hold
// third-party code whose tests are never ours to run.
const DefaultExclude = "**/vendor/**"

// TestFilter is a pure predicate over qualified test names
type TestFilter struct {
	includes []string
	excludes []string
}

// New creates a TestFilter. Caller excludes are appended to DefaultExclude, never replacing it.
func New(includes, excludes []string) (*TestFilter, error) {
	f := &TestFilter{
		includes: compact(includes),
		excludes: []string{DefaultExclude},
	}
	for _, p := range compact(excludes) {
		if p != DefaultExclude {
			f.excludes = append(f.excludes, p)
		}
	}

	for _, p := range append(append([]string{}, f.includes...), f.excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}
	return f, nil
}

// MustNew is like New but panics on an invalid pattern
func MustNew(includes, excludes []string) *TestFilter {
	f, err := New(includes, excludes)
	if err != nil {
		panic(err)
	}
	return f
}

// Accept reports whether a test with the given qualified name is eligible.
// Excludes win; an empty include list accepts everything not excluded.
func (f *TestFilter) Accept(name string) bool {
	if matchAny(f.excludes, name) {
		return false
	}
	if len(f.includes) == 0 {
		return true
	}
	return matchAny(f.includes, name)
}

// Includes returns a copy of the include patterns
func (f *TestFilter) Includes() []string {
	return append([]string(nil), f.includes...)
}

// Excludes returns a copy of the effective exclude patterns, DefaultExclude first
func (f *TestFilter) Excludes() []string {
	return append([]string(nil), f.excludes...)
}

func (f *TestFilter) String() string {
	return fmt.Sprintf("includes=%v excludes=%v", f.includes, f.excludes)
}

// ParsePatterns splits a comma and/or whitespace separated pattern list
func ParsePatterns(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		matched, err := doublestar.Match(p, name)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func compact(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
