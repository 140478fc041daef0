package fs

import (
	"errors"
	"io/fs"
)

// ContainsFiles reports whether fsys holds at least one non-directory entry.
// A filesystem rooted at a missing directory counts as empty.
func ContainsFiles(fsys fs.FS) (bool, error) {
	found := false
	err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return found, err
}
