package charmlib_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/charmtools/charmforge/internal/charmlib"
)

func writeLib(t *testing.T, sourceDir, name, content string) {
	t.Helper()
	path := filepath.Join(sourceDir, "lib", "charms", filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScan(t *testing.T) {
	sourceDir := t.TempDir()
	writeLib(t, sourceDir, "observability_libs/v1/kubernetes_service_patch.py", `
LIBID = "abc123"
LIBAPI = 1
LIBPATCH = 5
PYDEPS = ["lightkube", "lightkube-models"]

def patch(): ...
`)
	writeLib(t, sourceDir, "data_platform_libs/v0/data_interfaces.py", `
LIBID = "def456"
PYDEPS = ['ops>=2.0', "lightkube"]
`)
	writeLib(t, sourceDir, "plain/v0/no_deps.py", `LIBID = "xyz"`)

	deps, err := charmlib.Scan(sourceDir)
	if err != nil {
		t.Fatal(err)
	}

	exp := []string{"lightkube", "lightkube-models", "ops>=2.0"}
	if diff := cmp.Diff(exp, deps); diff != "" {
		t.Fatalf("unexpected deps (-want +got):\n%s", diff)
	}
}

func TestScanWithoutLibraries(t *testing.T) {
	deps, err := charmlib.Scan(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 0 {
		t.Fatalf("expected no deps, got %v", deps)
	}
}
