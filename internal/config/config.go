// Package config defines the charm project configuration: the parts to
// build, their dependency settings and the file patterns excluded from the
// packed archive.
package config

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
)

const (
	// DefaultSource is the part source directory relative to the project root.
	DefaultSource = "."
	// DefaultEntrypoint is the charm entrypoint relative to the part source.
	DefaultEntrypoint = "src/charm.py"
)

// Root is the top-level project configuration.
type Root struct {
	Name          string           `json:"name"`
	Parts         map[string]*Part `json:"parts,omitempty"`
	ExcludedFiles StringSet        `json:"excluded_files,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Part describes one buildable unit of the project. A project without an
// explicit parts mapping gets a single implicit part named "charm".
type Part struct {
	Name               string    `json:"name,omitempty"`
	Source             string    `json:"source,omitempty"`
	Entrypoint         string    `json:"entrypoint,omitempty"`
	BinaryPackages     StringSet `json:"binary_packages,omitempty"`
	SourcePackages     StringSet `json:"source_packages,omitempty"`
	Requirements       StringSet `json:"requirements,omitempty"`
	StrictDependencies bool      `json:"strict_dependencies,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Parse validates the document against the project schema and decodes it.
// Defaults are applied after decoding, so an empty part is a valid part.
func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root
// struct. Parts are defined as a mapping keyed by part name, so the name is
// injected into each part here.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode project configuration: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) unmarshal() error {
	if len(r.Parts) == 0 {
		r.Parts = map[string]*Part{"charm": {}}
	}

	for name := range r.Parts {
		r.Parts[name] = cmp.Or(r.Parts[name], &Part{})
		part := r.Parts[name]
		part.Name = name
		part.Source = cmp.Or(part.Source, DefaultSource)
		part.Entrypoint = cmp.Or(part.Entrypoint, filepath.FromSlash(DefaultEntrypoint))
	}

	for _, pattern := range r.ExcludedFiles {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("failed to compile excluded file pattern %q: %w", pattern, err)
		}
	}

	return nil
}

// SortedParts yields the parts in name order so that builds and reports are
// deterministic regardless of mapping order in the file.
func (r *Root) SortedParts() []*Part {
	names := make([]string, 0, len(r.Parts))
	for name := range r.Parts {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]*Part, len(names))
	for i, name := range names {
		parts[i] = r.Parts[name]
	}
	return parts
}

type StringSet []string

func (s StringSet) Equal(other StringSet) bool {
	if len(s) != len(other) {
		return false
	}
	if len(s) > 1 {
		s = slices.Clone(s)
		slices.Sort(s)
		other = slices.Clone(other)
		slices.Sort(other)
	}
	return slices.Equal(s, other)
}
