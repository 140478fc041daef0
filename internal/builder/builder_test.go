package builder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/charmtools/charmforge/internal/builder"
	"github.com/charmtools/charmforge/internal/instrument"
	"github.com/charmtools/charmforge/internal/test/piprunner"
)

// charmProject writes a minimal but realistic charm source tree.
func charmProject(t *testing.T) string {
	t.Helper()
	sourceDir := t.TempDir()
	files := map[string]string{
		"src/charm.py":     "#!/usr/bin/env python3\nprint('hi')\n",
		"metadata.yaml":    "name: test-charm\n",
		"requirements.txt": "ops==2.4.1\n",
		"lib/helpers.py":   "",
		"lib/helpers.pyc":  "",
		"src/charm.pyc":    "",
		".jujuignore":      "*.pyc\n",
	}
	for name, content := range files {
		path := filepath.Join(sourceDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Chmod(filepath.Join(sourceDir, "src", "charm.py"), 0o755); err != nil {
		t.Fatal(err)
	}
	return sourceDir
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(out)
	return out
}

func TestBuild(t *testing.T) {
	sourceDir := charmProject(t)
	installDir := filepath.Join(t.TempDir(), "install")

	result, err := builder.New(sourceDir, installDir).
		WithEntrypoint(filepath.Join("src", "charm.py")).
		WithRequirementFiles([]string{filepath.Join(sourceDir, "requirements.txt")}).
		WithRunner(&piprunner.Recorder{}).
		WithMeasurements(instrument.New()).
		Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if exp := filepath.Join(installDir, "src", "charm.py"); result.Entrypoint != exp {
		t.Fatalf("entrypoint %q, want %q", result.Entrypoint, exp)
	}

	exp := []string{
		"dispatch",
		"hooks/install",
		"hooks/start",
		"hooks/upgrade-charm",
		"lib/helpers.py",
		"metadata.yaml",
		"requirements.txt",
		"src/charm.py",
		"venv/installed.marker",
	}
	if diff := cmp.Diff(exp, listFiles(t, installDir)); diff != "" {
		t.Fatalf("unexpected install tree (-want +got):\n%s", diff)
	}

	if result.DependencyCacheHit {
		t.Fatal("first build must not hit the dependency cache")
	}

	names := make([]string, len(result.Measurements))
	for i, m := range result.Measurements {
		names[i] = m.Name
	}
	if diff := cmp.Diff([]string{"stage", "shim", "dependencies", "revision"}, names); diff != "" {
		t.Fatalf("unexpected measurements (-want +got):\n%s", diff)
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	sourceDir := charmProject(t)
	buildDir := t.TempDir()
	installDir := filepath.Join(buildDir, "install")
	cacheDir := filepath.Join(buildDir, "deps-cache")

	build := func(runner *piprunner.Recorder) *builder.Result {
		t.Helper()
		result, err := builder.New(sourceDir, installDir).
			WithCacheDir(cacheDir).
			WithRequirementFiles([]string{filepath.Join(sourceDir, "requirements.txt")}).
			WithRunner(runner).
			Build(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return result
	}

	first := build(&piprunner.Recorder{})

	secondRunner := &piprunner.Recorder{}
	second := build(secondRunner)

	if first.DependencyFingerprint != second.DependencyFingerprint {
		t.Fatal("fingerprint changed between identical builds")
	}
	if !second.DependencyCacheHit {
		t.Fatal("second build must reuse the cached environment")
	}
	if len(secondRunner.Commands) != 0 {
		t.Fatalf("expected zero install subprocesses on second build, got %v", secondRunner.Commands)
	}
}

func TestBuildWipesInstallDir(t *testing.T) {
	sourceDir := charmProject(t)
	installDir := filepath.Join(t.TempDir(), "install")

	// Leftovers from a previous build must not survive.
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(installDir, "stale.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := builder.New(sourceDir, installDir).
		WithRunner(&piprunner.Recorder{}).
		Build(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(installDir, "stale.txt")); !os.IsNotExist(err) {
		t.Fatal("stale install dir content survived the rebuild")
	}
}

func TestBuildValidatesRequest(t *testing.T) {
	sourceDir := charmProject(t)

	cases := []struct {
		note      string
		configure func(b *builder.Builder) *builder.Builder
	}{
		{
			note: "missing entrypoint",
			configure: func(b *builder.Builder) *builder.Builder {
				return b.WithEntrypoint(filepath.Join("src", "nope.py"))
			},
		},
		{
			note: "absolute entrypoint",
			configure: func(b *builder.Builder) *builder.Builder {
				return b.WithEntrypoint(filepath.Join(sourceDir, "src", "charm.py"))
			},
		},
		{
			note: "non-executable entrypoint",
			configure: func(b *builder.Builder) *builder.Builder {
				return b.WithEntrypoint("metadata.yaml")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			b := tc.configure(builder.New(sourceDir, filepath.Join(t.TempDir(), "install")))
			_, err := b.Build(context.Background())
			if !errors.Is(err, builder.ErrBadRequest) {
				t.Fatalf("expected ErrBadRequest, got %v", err)
			}
		})
	}
}
