// Package staging mirrors a charm source tree into the install tree, applying
// ignore rules and preserving symlinks that stay inside the project.
package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmtools/charmforge/internal/ignore"
	"github.com/charmtools/charmforge/internal/logging"
)

// Stager walks a source tree and produces a parallel install tree. Regular
// files are hardlinked where the filesystem allows it and copied otherwise;
// symlinks are recreated relative as long as their target stays inside the
// source tree.
type Stager struct {
	sourceDir  string
	installDir string
	rules      *ignore.RuleSet
	log        *logging.Logger

	staged  int
	skipped int
}

func New(sourceDir, installDir string, rules *ignore.RuleSet, log *logging.Logger) *Stager {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return &Stager{
		sourceDir:  sourceDir,
		installDir: installDir,
		rules:      rules,
		log:        log,
	}
}

// Staged reports how many entries were transferred by the last Stage call.
func (s *Stager) Staged() int { return s.staged }

// Skipped reports how many entries were excluded by the last Stage call.
func (s *Stager) Skipped() int { return s.skipped }

// Stage transfers the source tree into the install dir and returns the final
// location of the entrypoint, re-rooted under the install dir. The install
// dir must already exist; the entrypoint is given as an absolute path inside
// the source tree.
func (s *Stager) Stage(entrypoint string) (string, error) {
	resolvedRoot, err := filepath.EvalSymlinks(s.sourceDir)
	if err != nil {
		return "", fmt.Errorf("resolve source dir: %w", err)
	}

	s.staged, s.skipped = 0, 0

	err = filepath.WalkDir(s.sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == s.sourceDir {
			return nil
		}

		rel, err := filepath.Rel(s.sourceDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(s.installDir, rel)
		relSlash := filepath.ToSlash(rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			// WalkDir never descends into symlinked directories, so both
			// file and directory symlinks land here.
			if s.rules.Matches(relSlash, false) {
				s.skipped++
				return nil
			}
			return s.relink(path, dest, resolvedRoot)

		case d.IsDir():
			if s.rules.Matches(relSlash, true) {
				s.log.Debugf("excluding directory %q", relSlash)
				s.skipped++
				return fs.SkipDir
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			s.staged++
			if err := os.Mkdir(dest, info.Mode().Perm()); err != nil {
				return err
			}
			// Mkdir perm is subject to the umask; restore the exact bits.
			return os.Chmod(dest, info.Mode().Perm())

		case d.Type().IsRegular():
			if s.rules.Matches(relSlash, false) {
				s.skipped++
				return nil
			}
			return s.transfer(path, dest)

		default:
			// Sockets, devices and FIFOs have no place in a charm.
			s.log.Warnf("ignoring unsupported file %q", relSlash)
			s.skipped++
			return nil
		}
	})
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(s.sourceDir, entrypoint)
	if err != nil {
		return "", fmt.Errorf("entrypoint outside source dir: %w", err)
	}
	return filepath.Join(s.installDir, rel), nil
}

// relink recreates a symlink at dest as long as the original resolves to a
// location inside the source tree. Links escaping the tree (and dangling
// links) are skipped with a diagnostic, never copied.
func (s *Stager) relink(path, dest, resolvedRoot string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		s.log.Warnf("ignoring dangling symlink %q: %v", path, err)
		s.skipped++
		return nil
	}

	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		s.log.Warnf("ignoring symlink %q pointing outside the project: %q", path, resolved)
		s.skipped++
		return nil
	}

	target, err := filepath.Rel(filepath.Dir(path), resolved)
	if err != nil {
		return err
	}
	s.staged++
	return os.Symlink(target, dest)
}

// transfer hardlinks a regular file into the install tree, falling back to a
// metadata-preserving copy when the filesystem refuses the link.
func (s *Stager) transfer(path, dest string) error {
	s.staged++
	err := os.Link(path, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EPERM) && !errors.Is(err, syscall.EXDEV) {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	// OpenFile perm is subject to the umask; restore the exact bits.
	if err := os.Chmod(dest, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}
