package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/charmtools/charmforge/internal/config"
)

func TestParseAppliesDefaults(t *testing.T) {

	result, err := config.Parse([]byte(`{
		name: test-charm,
		parts: {
			charm: {
				requirements: [requirements.txt]
			},
			reactive:
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	charm := result.Parts["charm"]
	if charm.Name != "charm" {
		t.Fatalf("part name not injected, got %q", charm.Name)
	}
	if charm.Source != "." {
		t.Fatalf("expected default source, got %q", charm.Source)
	}
	if charm.Entrypoint != filepath.FromSlash("src/charm.py") {
		t.Fatalf("expected default entrypoint, got %q", charm.Entrypoint)
	}
	if diff := cmp.Diff(config.StringSet{"requirements.txt"}, charm.Requirements); diff != "" {
		t.Fatalf("unexpected requirements (-want +got):\n%s", diff)
	}

	// A bare part builds with all defaults.
	reactive := result.Parts["reactive"]
	if reactive == nil || reactive.Entrypoint != filepath.FromSlash("src/charm.py") {
		t.Fatalf("empty part not defaulted: %+v", reactive)
	}
}

func TestParseImplicitPart(t *testing.T) {

	result, err := config.Parse([]byte(`name: test-charm`))
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Parts) != 1 || result.Parts["charm"] == nil {
		t.Fatalf("expected a single implicit charm part, got %v", result.Parts)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {

	_, err := config.Parse([]byte(`{
		name: test-charm,
		parts: {
			charm: {
				entry_point: src/charm.py
			}
		}
	}`))
	if err == nil {
		t.Fatal("expected a schema violation for the misspelled field")
	}
}

func TestParseRejectsBadExclusionPattern(t *testing.T) {

	_, err := config.Parse([]byte(`{
		name: test-charm,
		excluded_files: ["[unclosed"]
	}`))
	if err == nil || !strings.Contains(err.Error(), "excluded file pattern") {
		t.Fatalf("expected an exclusion pattern error, got %v", err)
	}
}

func TestSortedParts(t *testing.T) {

	result, err := config.Parse([]byte(`{
		name: test-charm,
		parts: {
			zebra: ,
			alpha: ,
			middle:
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, part := range result.SortedParts() {
		names = append(names, part.Name)
	}
	if diff := cmp.Diff([]string{"alpha", "middle", "zebra"}, names); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("name: test-charm\nparts:\n  charm:\n    requirements: [requirements.txt]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	extra := filepath.Join(dir, "extra.yaml")
	if err := os.WriteFile(extra, []byte("parts:\n  charm:\n    strict_dependencies: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	bs, err := config.Merge([]string{base, extra}, true)
	if err != nil {
		t.Fatal(err)
	}

	result, err := config.Parse(bs)
	if err != nil {
		t.Fatal(err)
	}
	charm := result.Parts["charm"]
	if !charm.StrictDependencies {
		t.Fatal("merged strict_dependencies lost")
	}
	if diff := cmp.Diff(config.StringSet{"requirements.txt"}, charm.Requirements); diff != "" {
		t.Fatalf("unexpected requirements (-want +got):\n%s", diff)
	}
}

func TestMergeConflict(t *testing.T) {
	dir := t.TempDir()

	for i, content := range []string{"name: one\n", "name: two\n"} {
		path := filepath.Join(dir, []string{"a.yaml", "b.yaml"}[i])
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := config.Merge([]string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yaml")}, true)
	if err == nil || !strings.Contains(err.Error(), "conflict for config path /name") {
		t.Fatalf("expected a merge conflict, got %v", err)
	}
}

func TestReflectSchema(t *testing.T) {
	bs, err := config.ReflectSchema()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"excluded_files", "strict_dependencies", "binary_packages"} {
		if !strings.Contains(string(bs), want) {
			t.Fatalf("schema missing %q:\n%s", want, bs)
		}
	}
}
