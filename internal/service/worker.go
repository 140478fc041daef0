// Package service coordinates part builds: each part of the project is
// staged, shimmed, resolved and packed by a worker, and the manager runs the
// workers with bounded parallelism.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/charmtools/charmforge/internal/archive"
	"github.com/charmtools/charmforge/internal/builder"
	"github.com/charmtools/charmforge/internal/charmlib"
	"github.com/charmtools/charmforge/internal/config"
	"github.com/charmtools/charmforge/internal/deps"
	"github.com/charmtools/charmforge/internal/instrument"
	"github.com/charmtools/charmforge/internal/logging"
	"github.com/charmtools/charmforge/internal/metrics"
	"github.com/charmtools/charmforge/internal/progress"
)

type BuildState int

const (
	BuildStatePending BuildState = iota
	BuildStateSuccess
	BuildStateInvalidRequest
	BuildStateBuildFailed
	BuildStatePackFailed
)

func (s BuildState) String() string {
	switch s {
	case BuildStateSuccess:
		return "success"
	case BuildStateInvalidRequest:
		return "invalid-request"
	case BuildStateBuildFailed:
		return "build-failed"
	case BuildStatePackFailed:
		return "pack-failed"
	}
	return "pending"
}

// PartStatus is the outcome of one part build. Err keeps the original error
// so that callers can map it to an exit code; Message is what reports show.
type PartStatus struct {
	Part     string
	State    BuildState
	Message  string
	Err      error
	Archive  string
	Revision string
	CacheHit bool
	Duration time.Duration
	Issues   []archive.Issue
}

// PartWorker builds a single part: it stages the part source into its own
// install tree, generates the dispatch shims, resolves the Python
// dependencies and packs the result into a charm archive under the build
// directory.
type PartWorker struct {
	projectName string
	projectDir  string
	buildDir    string
	part        *config.Part
	excluded    []string
	python      string
	runner      deps.CommandRunner
	log         *logging.Logger
	bar         *progress.Bar
}

func NewPartWorker(projectName, projectDir, buildDir string, part *config.Part) *PartWorker {
	return &PartWorker{
		projectName: projectName,
		projectDir:  projectDir,
		buildDir:    buildDir,
		part:        part,
		log:         logging.NewDiscardLogger(),
	}
}

func (w *PartWorker) WithExcluded(patterns []string) *PartWorker {
	w.excluded = patterns
	return w
}

func (w *PartWorker) WithPython(interpreter string) *PartWorker {
	w.python = interpreter
	return w
}

func (w *PartWorker) WithRunner(runner deps.CommandRunner) *PartWorker {
	w.runner = runner
	return w
}

func (w *PartWorker) WithLogger(log *logging.Logger) *PartWorker {
	w.log = log
	return w
}

func (w *PartWorker) WithProgress(bar *progress.Bar) *PartWorker {
	w.bar = bar
	return w
}

// ArchivePath returns the destination of the part's packed archive. The
// default part keeps the plain project name; extra parts get a suffix.
func (w *PartWorker) ArchivePath() string {
	name := w.projectName
	if w.part.Name != "charm" {
		name = fmt.Sprintf("%s_%s", w.projectName, w.part.Name)
	}
	return filepath.Join(w.buildDir, name+".charm")
}

// Execute runs one part build iteration: stage, shim, dependencies, pack.
func (w *PartWorker) Execute(ctx context.Context) PartStatus {
	startTime := time.Now()

	defer w.bar.Add(1)

	status := PartStatus{Part: w.part.Name}
	sourceDir := filepath.Join(w.projectDir, w.part.Source)
	partDir := filepath.Join(w.buildDir, "parts", w.part.Name)
	installDir := filepath.Join(partDir, "install")

	charmlibDeps, err := charmlib.Scan(sourceDir)
	if err != nil {
		w.log.Warnf("failed to scan charm libraries for part %q: %v", w.part.Name, err)
		return w.report(status, BuildStateBuildFailed, startTime, err)
	}

	b := builder.New(sourceDir, installDir).
		WithEntrypoint(w.part.Entrypoint).
		WithCacheDir(filepath.Join(partDir, "deps-cache")).
		WithBinaryPackages(w.part.BinaryPackages).
		WithSourcePackages(w.part.SourcePackages).
		WithRequirementFiles(w.requirementFiles(sourceDir)).
		WithStrictDependencies(w.part.StrictDependencies).
		WithCharmlibDeps(charmlibDeps).
		WithLogger(w.log).
		WithMeasurements(instrument.New())
	if w.python != "" {
		b = b.WithPython(w.python)
	}
	if w.runner != nil {
		b = b.WithRunner(w.runner)
	}

	result, err := b.Build(ctx)
	if err != nil {
		w.log.Warnf("failed to build part %q: %v", w.part.Name, err)
		if errors.Is(err, builder.ErrBadRequest) {
			return w.report(status, BuildStateInvalidRequest, startTime, err)
		}
		return w.report(status, BuildStateBuildFailed, startTime, err)
	}
	status.Revision = result.Revision
	status.CacheHit = result.DependencyCacheHit

	status.Issues, err = archive.Lint(installDir)
	if err != nil {
		w.log.Warnf("failed to lint part %q: %v", w.part.Name, err)
		return w.report(status, BuildStateBuildFailed, startTime, err)
	}
	for _, issue := range status.Issues {
		w.log.Warnf("part %q: %s: %s", w.part.Name, issue.Check, issue.Message)
	}

	dest := w.ArchivePath()
	packer := archive.NewPacker(installDir).
		WithExcluded(w.excluded).
		WithLogger(w.log)
	if err := packer.Pack(dest); err != nil {
		w.log.Warnf("failed to pack part %q: %v", w.part.Name, err)
		return w.report(status, BuildStatePackFailed, startTime, err)
	}
	status.Archive = dest

	w.log.Debugf("Part %q built and packed to %s.", w.part.Name, dest)
	return w.report(status, BuildStateSuccess, startTime, nil)
}

func (w *PartWorker) requirementFiles(sourceDir string) []string {
	files := make([]string, 0, len(w.part.Requirements))
	for _, f := range w.part.Requirements {
		if !filepath.IsAbs(f) {
			f = filepath.Join(sourceDir, f)
		}
		files = append(files, f)
	}
	return files
}

func (w *PartWorker) report(status PartStatus, state BuildState, startTime time.Time, err error) PartStatus {
	status.State = state
	status.Duration = time.Since(startTime)
	if err != nil {
		status.Err = err
		status.Message = err.Error()
	}

	if state == BuildStateSuccess {
		metrics.BuildSucceeded(w.part.Name, startTime)
	} else {
		metrics.BuildFailed(w.part.Name, state.String())
	}
	return status
}

// Manager builds every part of a project. Parts are independent, so they run
// concurrently up to the configured parallelism.
type Manager struct {
	root        *config.Root
	projectDir  string
	buildDir    string
	parallelism int
	python      string
	runner      deps.CommandRunner
	log         *logging.Logger
	bar         *progress.Bar
}

func NewManager(root *config.Root, projectDir, buildDir string) *Manager {
	return &Manager{
		root:        root,
		projectDir:  projectDir,
		buildDir:    buildDir,
		parallelism: 1,
		log:         logging.NewDiscardLogger(),
	}
}

func (m *Manager) WithParallelism(n int) *Manager {
	if n > 0 {
		m.parallelism = n
	}
	return m
}

func (m *Manager) WithPython(interpreter string) *Manager {
	m.python = interpreter
	return m
}

func (m *Manager) WithRunner(runner deps.CommandRunner) *Manager {
	m.runner = runner
	return m
}

func (m *Manager) WithLogger(log *logging.Logger) *Manager {
	m.log = log
	return m
}

func (m *Manager) WithProgress(bar *progress.Bar) *Manager {
	m.bar = bar
	return m
}

// Run builds all parts and returns one status per part, ordered by part
// name. A failed part does not cancel its siblings; the returned error
// summarizes the failures.
func (m *Manager) Run(ctx context.Context) ([]PartStatus, error) {
	if err := os.MkdirAll(m.buildDir, 0o755); err != nil {
		return nil, err
	}

	parts := m.root.SortedParts()
	statuses := make([]PartStatus, len(parts))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(m.parallelism)

	for i, part := range parts {
		group.Go(func() error {
			worker := NewPartWorker(m.root.Name, m.projectDir, m.buildDir, part).
				WithExcluded(m.root.ExcludedFiles).
				WithPython(m.python).
				WithRunner(m.runner).
				WithLogger(m.log.WithName(part.Name)).
				WithProgress(m.bar)
			statuses[i] = worker.Execute(ctx)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return statuses, err
	}

	var errs []error
	for _, status := range statuses {
		if status.State != BuildStateSuccess {
			m.log.Errorf("part %q failed: %s", status.Part, status.Message)
			errs = append(errs, fmt.Errorf("part %q: %w", status.Part, status.Err))
		}
	}
	return statuses, errors.Join(errs...)
}
