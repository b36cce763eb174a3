// Package architecture holds import-graph checks for the module.
package architecture

import (
	"path/filepath"
	"runtime"
	"testing"

	"workassign/testutil"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("cannot locate test file")
	}
	return filepath.Join(filepath.Dir(file), "..", "..")
}

func TestAllocatorAndReportAreIndependent(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, "workassign/internal/allocator",
		testutil.PackageForbidden("workassign/internal/report"),
		"allocation must not depend on reporting")
	testutil.AssertNoTransitiveDependency(t, "workassign/internal/report",
		testutil.PackageForbidden("workassign/internal/allocator"),
		"reporting must not depend on allocation")
}

func TestAlgorithmsStayOffTheStorageStack(t *testing.T) {
	for _, pkg := range []string{"workassign/internal/allocator", "workassign/internal/report"} {
		testutil.AssertNoTransitiveDependency(t, pkg,
			testutil.PackageForbidden("workassign/internal/infra"),
			"algorithms work through domain interfaces")
	}
}

func TestDomainImportsStandardLibraryOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, filepath.Join(repoRoot(t), "pkg", "domain"),
		testutil.NonStdlibForbidden, "domain contracts are shared by every layer")
}

func TestAdaptersUseCoreNotInfra(t *testing.T) {
	root := repoRoot(t)
	for _, dir := range []string{"httpapi", "reports"} {
		testutil.AssertNoDirectImports(t, filepath.Join(root, "internal", "adapters", dir),
			testutil.PackageForbidden("workassign/internal/infra"),
			"adapters reach storage through core and blob")
	}
}
