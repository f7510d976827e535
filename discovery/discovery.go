package discovery

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// Discovery modes. A registry bound with a mode only replaces the active one
// when the runner is configured for that mode.
const (
	ModeAuto     = "auto"
	ModeManifest = "manifest"

	// ManifestFile is read from a component's root in manifest mode
	ManifestFile = "sentinel.yaml"
)

// Candidate is a test package found in a component, in discovery order
type Candidate struct {
	Name string // package import path
	Dir  string
}

// Discoverer enumerates the test packages of one component
type Discoverer interface {
	Mode() string
	Discover(ctx context.Context, component types.Component) ([]Candidate, error)
}

// ReadModulePath returns the module path declared by dir/go.mod
func ReadModulePath(dir string) (string, error) {
	goModPath := filepath.Join(dir, "go.mod")
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	modulePath := modfile.ModulePath(data)
	if modulePath == "" {
		return "", fmt.Errorf("could not find module name in %s", goModPath)
	}
	return modulePath, nil
}

// AutoDiscoverer finds every package of a component with test files that declare tests
type AutoDiscoverer struct {
	Inspector Inspector
	Log       log.Logger
}

var _ Discoverer = (*AutoDiscoverer)(nil)

// NewAutoDiscoverer creates an AutoDiscoverer using the go tool's conventions
func NewAutoDiscoverer(logger log.Logger) *AutoDiscoverer {
	if logger == nil {
		logger = log.New()
	}
	return &AutoDiscoverer{Inspector: GoInspector{}, Log: logger}
}

// Mode implements Discoverer
func (d *AutoDiscoverer) Mode() string {
	return ModeAuto
}

// Discover implements Discoverer
func (d *AutoDiscoverer) Discover(ctx context.Context, component types.Component) ([]Candidate, error) {
	fsys := os.DirFS(component.Dir)
	matches, err := doublestar.Glob(fsys, "**/*_test.go")
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", component.Dir, err)
	}

	var relDirs []string
	seen := make(map[string]bool)
	for _, match := range matches {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !d.Inspector.LooksLikeTest(match) {
			continue
		}
		relDir := path.Dir(match)
		if seen[relDir] || ignoredDir(relDir) {
			continue
		}
		if isNestedModule(component.Dir, relDir) {
			continue
		}
		seen[relDir] = true
		relDirs = append(relDirs, relDir)
	}
	slices.Sort(relDirs)

	var candidates []Candidate
	for _, relDir := range relDirs {
		dir := filepath.Join(component.Dir, filepath.FromSlash(relDir))
		tests, err := FindTestFunctions(dir, d.Inspector)
		if err != nil {
			// Keep the package; resolution at run time reports the real problem.
			d.Log.Debug("Could not parse test files, keeping package", "dir", dir, "err", err)
		} else if len(tests) == 0 {
			d.Log.Debug("Skip package without test functions", "dir", dir)
			continue
		}
		candidates = append(candidates, Candidate{
			Name: importPath(component.ID, relDir),
			Dir:  dir,
		})
	}
	return candidates, nil
}

// FindTestFunctions parses the test files of one package directory and returns its test function names
func FindTestFunctions(dir string, inspector Inspector) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var testFunctions []string
	fset := token.NewFileSet()
	for _, entry := range entries {
		if entry.IsDir() || !inspector.LooksLikeTest(entry.Name()) {
			continue
		}

		f, err := parser.ParseFile(fset, filepath.Join(dir, entry.Name()), nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		for _, decl := range f.Decls {
			funcDecl, ok := decl.(*ast.FuncDecl)
			if !ok || funcDecl.Recv != nil {
				continue
			}
			if IsTestFuncName(funcDecl.Name.Name) {
				testFunctions = append(testFunctions, funcDecl.Name.Name)
			}
		}
	}
	return testFunctions, nil
}

// Manifest lists the test packages of a component, relative to its root
type Manifest struct {
	Packages []string `yaml:"packages"`
}

// ManifestDiscoverer reads the test packages a component declares in its manifest
type ManifestDiscoverer struct {
	Log log.Logger
}

var _ Discoverer = (*ManifestDiscoverer)(nil)

// NewManifestDiscoverer creates a ManifestDiscoverer
func NewManifestDiscoverer(logger log.Logger) *ManifestDiscoverer {
	if logger == nil {
		logger = log.New()
	}
	return &ManifestDiscoverer{Log: logger}
}

// Mode implements Discoverer
func (d *ManifestDiscoverer) Mode() string {
	return ModeManifest
}

// Discover implements Discoverer. A component without a manifest contributes nothing.
func (d *ManifestDiscoverer) Discover(_ context.Context, component types.Component) ([]Candidate, error) {
	manifestPath := filepath.Join(component.Dir, ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		d.Log.Debug("Component has no manifest", "component", component.ID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", manifestPath, err)
	}

	var candidates []Candidate
	seen := make(map[string]bool)
	for _, pkg := range manifest.Packages {
		relDir := path.Clean(strings.TrimPrefix(filepath.ToSlash(pkg), "./"))
		if relDir == ".." || strings.HasPrefix(relDir, "../") || path.IsAbs(relDir) {
			return nil, fmt.Errorf("manifest package %q escapes component %s", pkg, component.ID)
		}
		if seen[relDir] {
			continue
		}
		seen[relDir] = true
		candidates = append(candidates, Candidate{
			Name: importPath(component.ID, relDir),
			Dir:  filepath.Join(component.Dir, filepath.FromSlash(relDir)),
		})
	}
	return candidates, nil
}

func importPath(modulePath, relDir string) string {
	if relDir == "." || relDir == "" {
		return modulePath
	}
	return modulePath + "/" + relDir
}

// ignoredDir reports whether the go tool skips this directory when matching packages
func ignoredDir(relDir string) bool {
	if relDir == "." {
		return false
	}
	for _, elem := range strings.Split(relDir, "/") {
		if elem == "testdata" || strings.HasPrefix(elem, ".") || strings.HasPrefix(elem, "_") {
			return true
		}
	}
	return false
}

// isNestedModule reports whether relDir or one of its parents below root is a separate module
func isNestedModule(root, relDir string) bool {
	for dir := relDir; dir != "." && dir != "/"; dir = path.Dir(dir) {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(dir), "go.mod")); err == nil {
			return true
		}
	}
	return false
}
