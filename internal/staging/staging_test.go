package staging_test

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/charmtools/charmforge/internal/ignore"
	"github.com/charmtools/charmforge/internal/staging"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
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

func TestStage(t *testing.T) {
	cases := []struct {
		note  string
		files map[string]string
		rules []string
		exp   []string
	}{
		{
			note: "plain tree is mirrored",
			files: map[string]string{
				"charm.py":      "#!/usr/bin/env python3\n",
				"metadata.yaml": "name: test\n",
				"lib/ops.py":    "",
			},
			exp: []string{"charm.py", "lib", "lib/ops.py", "metadata.yaml"},
		},
		{
			note: "ignored files are excluded",
			files: map[string]string{
				"charm.py":         "",
				"mod.pyc":          "",
				"lib/util.py":      "",
				"lib/util.pyc":     "",
				"lib/sub/deep.pyc": "",
			},
			rules: []string{"*.pyc"},
			exp:   []string{"charm.py", "lib", "lib/sub", "lib/util.py"},
		},
		{
			note: "ignored directories are pruned",
			files: map[string]string{
				"charm.py":            "",
				"__pycache__/mod.pyc": "",
				"lib/__pycache__/x":   "",
			},
			rules: []string{"__pycache__/"},
			exp:   []string{"charm.py", "lib"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			sourceDir := t.TempDir()
			installDir := t.TempDir()
			writeTree(t, sourceDir, tc.files)

			rs, err := ignore.Compile(tc.rules)
			if err != nil {
				t.Fatal(err)
			}

			entrypoint := filepath.Join(sourceDir, "charm.py")
			staged, err := staging.New(sourceDir, installDir, rs, nil).Stage(entrypoint)
			if err != nil {
				t.Fatal(err)
			}
			if exp := filepath.Join(installDir, "charm.py"); staged != exp {
				t.Fatalf("entrypoint staged at %q, want %q", staged, exp)
			}

			if diff := cmp.Diff(tc.exp, listTree(t, installDir)); diff != "" {
				t.Fatalf("unexpected install tree (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStageHardlinksFiles(t *testing.T) {
	sourceDir := t.TempDir()
	installDir := t.TempDir()
	writeTree(t, sourceDir, map[string]string{"charm.py": "content"})

	if _, err := staging.New(sourceDir, installDir, ignore.Default(), nil).
		Stage(filepath.Join(sourceDir, "charm.py")); err != nil {
		t.Fatal(err)
	}

	src, err := os.Stat(filepath.Join(sourceDir, "charm.py"))
	if err != nil {
		t.Fatal(err)
	}
	dst, err := os.Stat(filepath.Join(installDir, "charm.py"))
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(src, dst) {
		t.Fatal("expected staged file to be a hard link of the source")
	}
}

func TestStagePreservesExecutableBit(t *testing.T) {
	sourceDir := t.TempDir()
	installDir := t.TempDir()
	writeTree(t, sourceDir, map[string]string{"charm.py": "#!/usr/bin/env python3\n"})
	if err := os.Chmod(filepath.Join(sourceDir, "charm.py"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := staging.New(sourceDir, installDir, ignore.Default(), nil).
		Stage(filepath.Join(sourceDir, "charm.py")); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(installDir, "charm.py"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Fatal("expected staged entrypoint to remain executable")
	}
}

func TestStagePreservesDirectoryMode(t *testing.T) {
	sourceDir := t.TempDir()
	installDir := t.TempDir()
	writeTree(t, sourceDir, map[string]string{"lib/mod.py": "", "charm.py": ""})
	// Group-write would be stripped by the usual umask if modes were not
	// restored after Mkdir.
	if err := os.Chmod(filepath.Join(sourceDir, "lib"), 0o775); err != nil {
		t.Fatal(err)
	}

	if _, err := staging.New(sourceDir, installDir, ignore.Default(), nil).
		Stage(filepath.Join(sourceDir, "charm.py")); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(installDir, "lib"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o775 {
		t.Fatalf("staged directory mode %o, want %o", info.Mode().Perm(), 0o775)
	}
}

func TestStageUnsupportedEntrySkipped(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no FIFOs on windows")
	}
	sourceDir := t.TempDir()
	installDir := t.TempDir()
	writeTree(t, sourceDir, map[string]string{"charm.py": ""})
	if err := syscall.Mkfifo(filepath.Join(sourceDir, "pipe"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := staging.New(sourceDir, installDir, ignore.Default(), nil)
	if _, err := s.Stage(filepath.Join(sourceDir, "charm.py")); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Lstat(filepath.Join(installDir, "pipe")); !os.IsNotExist(err) {
		t.Fatalf("expected the FIFO to be absent from the install tree, got err=%v", err)
	}
	if s.Skipped() != 1 {
		t.Fatalf("expected the FIFO to be counted as skipped, got %d", s.Skipped())
	}
}

func TestStageInternalSymlink(t *testing.T) {
	sourceDir := t.TempDir()
	installDir := t.TempDir()
	writeTree(t, sourceDir, map[string]string{"lib/real.py": "x"})
	if err := os.Symlink(filepath.Join("lib", "real.py"), filepath.Join(sourceDir, "alias.py")); err != nil {
		t.Fatal(err)
	}

	if _, err := staging.New(sourceDir, installDir, ignore.Default(), nil).
		Stage(filepath.Join(sourceDir, "lib", "real.py")); err != nil {
		t.Fatal(err)
	}

	target, err := os.Readlink(filepath.Join(installDir, "alias.py"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.IsAbs(target) {
		t.Fatalf("expected a relative symlink, got %q", target)
	}
	content, err := os.ReadFile(filepath.Join(installDir, "alias.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "x" {
		t.Fatalf("symlink resolves to %q, want %q", content, "x")
	}
}

func TestStageEscapingSymlinkSkipped(t *testing.T) {
	outside := t.TempDir()
	sourceDir := t.TempDir()
	installDir := t.TempDir()
	writeTree(t, outside, map[string]string{"secret": "no"})
	writeTree(t, sourceDir, map[string]string{"charm.py": ""})
	if err := os.Symlink(filepath.Join(outside, "secret"), filepath.Join(sourceDir, "leak")); err != nil {
		t.Fatal(err)
	}

	if _, err := staging.New(sourceDir, installDir, ignore.Default(), nil).
		Stage(filepath.Join(sourceDir, "charm.py")); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Lstat(filepath.Join(installDir, "leak")); !os.IsNotExist(err) {
		t.Fatalf("expected escaping symlink to be absent, got err=%v", err)
	}
}

func TestStageSymlinkedDirectoryNotDescended(t *testing.T) {
	sourceDir := t.TempDir()
	installDir := t.TempDir()
	writeTree(t, sourceDir, map[string]string{"lib/mod.py": ""})
	if err := os.Symlink("lib", filepath.Join(sourceDir, "libalias")); err != nil {
		t.Fatal(err)
	}

	if _, err := staging.New(sourceDir, installDir, ignore.Default(), nil).
		Stage(filepath.Join(sourceDir, "lib", "mod.py")); err != nil {
		t.Fatal(err)
	}

	info, err := os.Lstat(filepath.Join(installDir, "libalias"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("expected libalias to stay a symlink, not a copied tree")
	}
}
