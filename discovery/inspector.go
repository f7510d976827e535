// Package discovery decides which packages of a component contain tests and how
// a discovered test package is resolved into something runnable.
package discovery

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// Inspector is the test-likeness capability used by discovery and execution
type Inspector interface {
	// LooksLikeTest reports whether a file name follows the test naming convention
	LooksLikeTest(fileName string) bool
	// IsRunnable reports whether a resolved class can actually be executed
	IsRunnable(class *types.TestClass) bool
}

var _ Inspector = GoInspector{}

// GoInspector applies the go tool's rules for test files and test functions
type GoInspector struct{}

// LooksLikeTest implements Inspector. Files starting with '_' or '.' are ignored by the go tool.
func (GoInspector) LooksLikeTest(fileName string) bool {
	base := filepath.Base(fileName)
	if strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, "_test.go")
}

// IsRunnable implements Inspector
func (GoInspector) IsRunnable(class *types.TestClass) bool {
	if class == nil || class.Dir == "" {
		return false
	}
	for _, name := range class.Tests {
		if IsTestFuncName(name) {
			return true
		}
	}
	return false
}

// IsTestFuncName reports whether name is a TestXxx function the go tool would run.
// TestMain is a harness, not a test.
func IsTestFuncName(name string) bool {
	if !strings.HasPrefix(name, "Test") || name == "TestMain" {
		return false
	}
	if len(name) == len("Test") {
		return true
	}
	r, _ := utf8.DecodeRuneInString(name[len("Test"):])
	return !unicode.IsLower(r)
}
