// Package builder composes the build pipeline: staging the source tree,
// generating the dispatch shims, resolving dependencies and writing the
// revision marker into a fresh install tree.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmtools/charmforge/internal/deps"
	"github.com/charmtools/charmforge/internal/ignore"
	"github.com/charmtools/charmforge/internal/instrument"
	"github.com/charmtools/charmforge/internal/logging"
	"github.com/charmtools/charmforge/internal/metrics"
	"github.com/charmtools/charmforge/internal/shim"
	"github.com/charmtools/charmforge/internal/staging"
	"github.com/charmtools/charmforge/internal/vcs"
)

const (
	ignoreFileName   = ".jujuignore"
	revisionFileName = "version"
)

// ErrBadRequest wraps request-shape violations detected before the pipeline
// touches the filesystem.
var ErrBadRequest = errors.New("invalid build request")

// Builder holds one build request. It is configured once via the With
// methods and owned by a single Build call; the pipeline is synchronous and
// fail-fast, with no retry of failed steps.
type Builder struct {
	sourceDir        string
	installDir       string
	cacheDir         string
	entrypoint       string
	binaryPackages   []string
	sourcePackages   []string
	requirementFiles []string
	strict           bool
	charmlibDeps     []string
	python           string
	runner           deps.CommandRunner
	log              *logging.Logger
	measurements     *instrument.Measurements
}

// Result describes a finished build.
type Result struct {
	Entrypoint            string
	Revision              string
	Staged                int
	Skipped               int
	DependencyFingerprint string
	DependencyCacheHit    bool
	Measurements          []instrument.Measurement
}

func New(sourceDir, installDir string) *Builder {
	return &Builder{
		sourceDir:  sourceDir,
		installDir: installDir,
		entrypoint: filepath.Join("src", "charm.py"),
		python:     "python3",
		log:        logging.NewDiscardLogger(),
	}
}

// WithEntrypoint sets the charm entrypoint, relative to the source dir.
func (b *Builder) WithEntrypoint(path string) *Builder {
	b.entrypoint = path
	return b
}

func (b *Builder) WithCacheDir(dir string) *Builder {
	b.cacheDir = dir
	return b
}

func (b *Builder) WithBinaryPackages(packages []string) *Builder {
	b.binaryPackages = packages
	return b
}

func (b *Builder) WithSourcePackages(packages []string) *Builder {
	b.sourcePackages = packages
	return b
}

func (b *Builder) WithRequirementFiles(files []string) *Builder {
	b.requirementFiles = files
	return b
}

func (b *Builder) WithStrictDependencies(strict bool) *Builder {
	b.strict = strict
	return b
}

func (b *Builder) WithCharmlibDeps(specs []string) *Builder {
	b.charmlibDeps = specs
	return b
}

func (b *Builder) WithPython(interpreter string) *Builder {
	b.python = interpreter
	return b
}

func (b *Builder) WithRunner(runner deps.CommandRunner) *Builder {
	b.runner = runner
	return b
}

func (b *Builder) WithLogger(log *logging.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithMeasurements(m *instrument.Measurements) *Builder {
	b.measurements = m
	return b
}

// Build runs the whole pipeline. The install dir is always rebuilt from
// scratch; the dependency cache dir persists across builds and is only
// invalidated by a fingerprint mismatch.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	entrypoint, err := b.validate()
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(b.installDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.installDir, 0o755); err != nil {
		return nil, err
	}

	rules, err := b.rules()
	if err != nil {
		return nil, err
	}

	result := &Result{}

	endStage := b.measurements.Start("stage")
	stager := staging.New(b.sourceDir, b.installDir, rules, b.log)
	stagedEntrypoint, err := stager.Stage(entrypoint)
	endStage()
	if err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	result.Entrypoint = stagedEntrypoint
	result.Staged = stager.Staged()
	result.Skipped = stager.Skipped()

	endShim := b.measurements.Start("shim")
	err = shim.New(b.installDir, b.log).Generate(stagedEntrypoint)
	endShim()
	if err != nil {
		return nil, fmt.Errorf("generate shims: %w", err)
	}

	endDeps := b.measurements.Start("dependencies")
	depResult, err := b.ensureDependencies(ctx)
	endDeps()
	if err != nil {
		return nil, err
	}
	result.DependencyFingerprint = depResult.Fingerprint
	result.DependencyCacheHit = depResult.CacheHit

	endRevision := b.measurements.Start("revision")
	result.Revision, err = b.writeRevision()
	endRevision()
	if err != nil {
		return nil, err
	}

	result.Measurements = b.measurements.Snapshot()
	return result, nil
}

func (b *Builder) validate() (string, error) {
	if b.sourceDir == "" || b.installDir == "" {
		return "", fmt.Errorf("%w: source and install dirs are required", ErrBadRequest)
	}
	if filepath.IsAbs(b.entrypoint) {
		return "", fmt.Errorf("%w: entrypoint %q must be relative to the source dir", ErrBadRequest, b.entrypoint)
	}

	entrypoint := filepath.Join(b.sourceDir, b.entrypoint)
	info, err := os.Stat(entrypoint)
	if err != nil {
		return "", fmt.Errorf("%w: entrypoint %q: %v", ErrBadRequest, b.entrypoint, err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: entrypoint %q is not executable", ErrBadRequest, b.entrypoint)
	}
	return entrypoint, nil
}

func (b *Builder) rules() (*ignore.RuleSet, error) {
	rules := ignore.Default()
	ignoreFile := filepath.Join(b.sourceDir, ignoreFileName)
	if _, err := os.Stat(ignoreFile); err == nil {
		if err := rules.ExtendFromFile(ignoreFile); err != nil {
			return nil, fmt.Errorf("read %s: %w", ignoreFileName, err)
		}
		b.log.Debugf("extended default ignore rules from %s", ignoreFileName)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return rules, nil
}

func (b *Builder) ensureDependencies(ctx context.Context) (*deps.Result, error) {
	cacheDir := b.cacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(filepath.Dir(b.installDir), "deps-cache")
	}

	engine := deps.NewEngine(cacheDir).
		WithLogger(b.log).
		WithPython(b.python)
	if b.runner != nil {
		engine = engine.WithRunner(b.runner)
	}

	return engine.EnsureEnvironment(ctx, deps.Request{
		InstallDir:       b.installDir,
		BinaryPackages:   b.binaryPackages,
		SourcePackages:   b.sourcePackages,
		RequirementFiles: b.requirementFiles,
		Strict:           b.strict,
	}, b.charmlibDeps)
}

// writeRevision records the source revision in the install tree. A source
// tree outside version control simply gets no marker.
func (b *Builder) writeRevision() (string, error) {
	metrics.RevisionDescribed()
	revision, err := vcs.Describe(b.sourceDir)
	if errors.Is(err, vcs.ErrNoRepository) {
		b.log.Debugf("source dir is not a git repository, skipping revision marker")
		return "", nil
	}
	if err != nil {
		metrics.RevisionDescribeFailed()
		return "", fmt.Errorf("describe revision: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.installDir, revisionFileName), []byte(revision+"\n"), 0o644); err != nil {
		return "", err
	}
	return revision, nil
}
