package fs

import (
	"io/fs"
	"path"

	"github.com/gobwas/glob"
)

// filterFS wraps an fs.FS and hides files matching the exclusion globs (or
// not matching the inclusion globs, when given). Directories are always
// visible so walks can descend; only files are filtered.
type filterFS struct {
	fsys     fs.FS
	included []glob.Glob
	excluded []glob.Glob
}

// NewFilterFS compiles the given glob patterns (slash-separated, `**` crosses
// directories) and returns a filtered view of fsys. A nil or empty included
// list means "everything".
func NewFilterFS(fsys fs.FS, included, excluded []string) (fs.FS, error) {
	f := &filterFS{fsys: fsys}
	for _, pattern := range included {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		f.included = append(f.included, g)
	}
	for _, pattern := range excluded {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		f.excluded = append(f.excluded, g)
	}
	return f, nil
}

func (f *filterFS) keep(name string) bool {
	if len(f.included) > 0 {
		found := false
		for _, g := range f.included {
			if g.Match(name) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, g := range f.excluded {
		if g.Match(name) {
			return false
		}
	}
	return true
}

func (f *filterFS) Open(name string) (fs.File, error) {
	file, err := f.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	if name == "." {
		return file, nil
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if !info.IsDir() && !f.keep(name) {
		file.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return file, nil
}

func (f *filterFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(f.fsys, name)
	if err != nil {
		return nil, err
	}
	kept := entries[:0]
	for _, entry := range entries {
		if entry.IsDir() || f.keep(path.Join(name, entry.Name())) {
			kept = append(kept, entry)
		}
	}
	return kept, nil
}
