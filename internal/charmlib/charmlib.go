// Package charmlib collects the PYDEPS declarations embedded in charm
// library modules, so that libraries shipped under lib/charms bring their
// own Python dependencies into the build.
package charmlib

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const librariesDir = "lib/charms"

// pydepsPattern matches the PYDEPS assignment in a charm library header, a
// single list literal of string dependencies.
var (
	pydepsPattern = regexp.MustCompile(`(?m)^PYDEPS\s*=\s*\[([^\]]*)\]`)
	stringPattern = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)
)

// Scan walks the charm libraries under sourceDir and returns the union of
// their PYDEPS entries, deduplicated and sorted. A project without libraries
// yields an empty set.
func Scan(sourceDir string) ([]string, error) {
	root := filepath.Join(sourceDir, filepath.FromSlash(librariesDir))
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".py") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, dep := range parsePydeps(string(content)) {
			set[dep] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	deps := make([]string, 0, len(set))
	for dep := range set {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps, nil
}

func parsePydeps(content string) []string {
	m := pydepsPattern.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	var deps []string
	for _, s := range stringPattern.FindAllStringSubmatch(m[1], -1) {
		dep := s[1]
		if dep == "" {
			dep = s[2]
		}
		if dep != "" {
			deps = append(deps, dep)
		}
	}
	return deps
}
