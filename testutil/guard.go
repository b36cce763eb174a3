// Package testutil provides helpers for enforcing package boundaries in
// tests.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"
)

// ModulePath is the import path prefix of every package in the module.
const ModulePath = "workassign"

// fatalLogger is the subset of testing.TB used to report violations.
type fatalLogger interface {
	Helper()
	Fatalf(format string, args ...any)
}

// AssertNoTransitiveDependency loads pattern (e.g. "workassign/internal/report")
// with its dependency graph and fails if any reachable package matches
// forbidden.
func AssertNoTransitiveDependency(t fatalLogger, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, err := transitiveDependencyViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	failIfViolations(t, "forbidden transitive dependency", reason, viols)
}

// AssertNoDirectImports scans the non-test .go files in dir and fails if any
// import matches forbidden. Build tags are ignored.
func AssertNoDirectImports(t fatalLogger, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports", reason, viols)
}

// PackageForbidden matches pkg and its subpackages.
func PackageForbidden(pkg string) func(string) bool {
	return func(path string) bool {
		return path == pkg || strings.HasPrefix(path, pkg+"/")
	}
}

// NonStdlibForbidden matches any import outside the standard library.
func NonStdlibForbidden(path string) bool {
	first := strings.SplitN(path, "/", 2)[0]
	return strings.Contains(first, ".") || first == ModulePath
}

// ModuleImportsExcept matches module packages other than the allowed ones.
// Standard library and third-party imports never match.
func ModuleImportsExcept(allowed ...string) func(string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(path string) bool {
		if !strings.HasPrefix(path, ModulePath+"/") {
			return false
		}
		_, ok := set[path]
		return !ok
	}
}

// AssertImportedOnlyBy loads every module package, tests included, and fails
// when a package outside owner imports target directly.
func AssertImportedOnlyBy(t fatalLogger, target, owner string, reason string) {
	t.Helper()
	pkgs, err := loadAll()
	if err != nil {
		t.Fatalf("load %s/...: %v", ModulePath, err)
	}
	isTarget, isOwner := PackageForbidden(target), PackageForbidden(owner)
	seen := make(map[string]struct{})
	for _, p := range pkgs {
		if isTarget(p.PkgPath) || isOwner(p.PkgPath) {
			continue
		}
		for imp := range p.Imports {
			if isTarget(imp) {
				seen[p.PkgPath+": "+imp] = struct{}{}
			}
		}
	}
	viols := make([]string, 0, len(seen))
	for v := range seen {
		viols = append(viols, v)
	}
	sort.Strings(viols)
	failIfViolations(t, "forbidden import of "+target, reason, viols)
}

var loadAll = func() ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	return packages.Load(cfg, ModulePath+"/...")
}

var loadDeps = func(pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	return packages.Load(cfg, pattern)
}

func transitiveDependencyViolations(pattern string, forbidden func(string) bool) ([]string, error) {
	roots, err := loadDeps(pattern)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no packages match %s", pattern)
	}
	seen := make(map[string]bool)
	var viols []string
	packages.Visit(roots, func(p *packages.Package) bool {
		if seen[p.PkgPath] {
			return false
		}
		seen[p.PkgPath] = true
		if forbidden(p.PkgPath) {
			viols = append(viols, p.PkgPath)
		}
		return true
	}, nil)
	sort.Strings(viols)
	return viols, nil
}

func directImportViolations(dir string, forbidden func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			ip, _ := strconv.Unquote(imp.Path.Value)
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

func failIfViolations(t fatalLogger, what, reason string, viols []string) {
	t.Helper()
	if len(viols) > 0 {
		t.Fatalf("%s detected (%s):\n%s", what, reason, strings.Join(viols, "\n"))
	}
}
