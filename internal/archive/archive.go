// Package archive assembles a staged install tree into a .charm zip and runs
// a lint pass over the result.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"

	cffs "github.com/charmtools/charmforge/internal/fs"
	"github.com/charmtools/charmforge/internal/logging"
)

// Packer zips an install tree. Symlinks are stored as symlink entries, file
// modes are preserved, and excluded globs are left out of the archive.
type Packer struct {
	installDir string
	excluded   []string
	log        *logging.Logger
}

func NewPacker(installDir string) *Packer {
	return &Packer{installDir: installDir, log: logging.NewDiscardLogger()}
}

func (p *Packer) WithExcluded(excluded []string) *Packer {
	p.excluded = excluded
	return p
}

func (p *Packer) WithLogger(log *logging.Logger) *Packer {
	p.log = log
	return p
}

// Pack writes the archive to dest, replacing any previous file there.
func (p *Packer) Pack(dest string) error {
	fsys, err := cffs.NewFilterFS(os.DirFS(p.installDir), nil, p.excluded)
	if err != nil {
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = iofs.WalkDir(fsys, ".", func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." || d.IsDir() {
			return nil
		}
		return p.addEntry(zw, path, d)
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("pack %s: %w", p.installDir, err)
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func (p *Packer) addEntry(zw *zip.Writer, path string, d iofs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = path
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	real := filepath.Join(p.installDir, filepath.FromSlash(path))
	if info.Mode()&iofs.ModeSymlink != 0 {
		// The link target is the entry body, matching what unzip expects.
		target, err := os.Readlink(real)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, filepath.ToSlash(target))
		return err
	}

	f, err := os.Open(real)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// Issue is a single lint finding. Lint findings never fail the build; they
// are surfaced so charm authors can fix their project.
type Issue struct {
	Check   string
	Message string
}

// Lint inspects a staged install tree for the structural problems that make
// a charm undeployable: missing or non-executable dispatch, a hooks
// directory without hooks, a missing entrypoint.
func Lint(installDir string) ([]Issue, error) {
	var issues []Issue

	dispatch := filepath.Join(installDir, "dispatch")
	if info, err := os.Stat(dispatch); os.IsNotExist(err) {
		issues = append(issues, Issue{Check: "dispatch", Message: "no dispatch script in the charm"})
	} else if err != nil {
		return nil, err
	} else if info.Mode().Perm()&0o111 == 0 {
		issues = append(issues, Issue{Check: "dispatch", Message: "dispatch script is not executable"})
	}

	hooksDir := filepath.Join(installDir, "hooks")
	if _, err := os.Stat(hooksDir); os.IsNotExist(err) {
		issues = append(issues, Issue{Check: "hooks", Message: "no hooks directory in the charm"})
	} else if err != nil {
		return nil, err
	} else {
		ok, err := cffs.ContainsFiles(os.DirFS(hooksDir))
		if err != nil {
			return nil, err
		}
		if !ok {
			issues = append(issues, Issue{Check: "hooks", Message: "hooks directory is empty"})
		}
	}

	if _, err := os.Stat(filepath.Join(installDir, "metadata.yaml")); os.IsNotExist(err) {
		issues = append(issues, Issue{Check: "metadata", Message: "no metadata.yaml in the charm"})
	} else if err != nil {
		return nil, err
	}

	return issues, nil
}
