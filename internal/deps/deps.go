// Package deps resolves and installs a charm's Python dependencies into an
// isolated environment, reusing the previous environment when a content hash
// over the dependency specification is unchanged.
package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/charmtools/charmforge/internal/logging"
	"github.com/charmtools/charmforge/internal/metrics"
)

const (
	hashFileName = "hash"
	envDirName   = "venv"

	// Below this pip version the resolver is too old to be trusted with the
	// install modes we use, so the environment upgrades pip first.
	minimumPipMajor = 20
	minimumPipMinor = 3
)

// pinnedPipSource is the pip wheel installed when the environment's pip is
// older than the minimum. URL and hash are pinned so a compromised index
// cannot inject a different pip.
const pinnedPipSource = "https://files.pythonhosted.org/packages/4d/16/0a14ca596f30316efd412a60bdfac02a7259bf8673d4d917dc60b9a21812/pip-22.0.4-py3-none-any.whl#sha256=c6aca0f2f081363f689f041d90dab2a07a9a07fb840284db2218117a52da800b"

// Request is the dependency-relevant slice of a build request.
type Request struct {
	InstallDir       string
	BinaryPackages   []string
	SourcePackages   []string
	RequirementFiles []string
	Strict           bool
}

func (r Request) empty() bool {
	return len(r.BinaryPackages) == 0 && len(r.SourcePackages) == 0 && len(r.RequirementFiles) == 0
}

// Result describes the environment produced by EnsureEnvironment.
type Result struct {
	EnvDir      string
	Fingerprint string
	CacheHit    bool
}

// Engine creates and caches dependency environments. The cache directory is
// a single-writer resource: concurrent builds sharing one cache dir must be
// serialized by the caller.
type Engine struct {
	cacheDir string
	python   string
	runner   CommandRunner
	layout   envLayout
	log      *logging.Logger
}

func NewEngine(cacheDir string) *Engine {
	log := logging.NewDiscardLogger()
	return &Engine{
		cacheDir: cacheDir,
		python:   "python3",
		runner:   NewExecRunner(log),
		layout:   layoutForHost(),
		log:      log,
	}
}

func (e *Engine) WithLogger(log *logging.Logger) *Engine {
	e.log = log
	return e
}

func (e *Engine) WithRunner(r CommandRunner) *Engine {
	e.runner = r
	return e
}

func (e *Engine) WithPython(interpreter string) *Engine {
	e.python = interpreter
	return e
}

// EnsureEnvironment makes sure an environment matching the request exists in
// the cache dir and copies its runtime libraries into the install tree under
// "venv". The cache dir itself is never referenced by the final package, so
// the copy is a real copy, not a link.
func (e *Engine) EnsureEnvironment(ctx context.Context, req Request, charmlibDeps []string) (*Result, error) {
	libDeps := dedupSorted(charmlibDeps)

	if req.Strict {
		if err := e.validateStrict(req, libDeps); err != nil {
			return nil, err
		}
	}

	if req.empty() && len(libDeps) == 0 {
		e.log.Debugf("no dependencies declared, skipping environment creation")
		return &Result{}, nil
	}

	fingerprint, err := e.fingerprint(req, libDeps)
	if err != nil {
		return nil, err
	}

	envDir := filepath.Join(e.cacheDir, envDirName)
	hit, reason := e.checkCache(fingerprint, envDir)
	if hit {
		e.log.Infof("reusing cached dependency environment (hash %s)", fingerprint[:12])
		metrics.DependencyCacheHit()
	} else {
		metrics.DependencyCacheMiss(reason)
		if err := os.MkdirAll(e.cacheDir, 0o755); err != nil {
			return nil, err
		}
		if err := e.install(ctx, req, libDeps, envDir); err != nil {
			return nil, err
		}
		// The hash is persisted only after every install step succeeded, so
		// a failed build can never masquerade as a valid cache.
		if err := os.WriteFile(filepath.Join(e.cacheDir, hashFileName), []byte(fingerprint), 0o644); err != nil {
			return nil, err
		}
	}

	site, err := e.layout.SitePackages(envDir)
	if err != nil {
		return nil, err
	}
	if err := copyTree(site, filepath.Join(req.InstallDir, envDirName)); err != nil {
		return nil, fmt.Errorf("copy dependency environment: %w", err)
	}

	return &Result{EnvDir: envDir, Fingerprint: fingerprint, CacheHit: hit}, nil
}

// fingerprint hashes the full dependency specification: requirement file
// contents in request order, then the binary and source package lists, then
// the deduplicated, sorted charmlib dependencies.
func (e *Engine) fingerprint(req Request, libDeps []string) (string, error) {
	h := sha256.New()
	for _, path := range req.RequirementFiles {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("read requirement file: %w", err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("read requirement file %s: %w", path, err)
		}
	}
	for _, spec := range req.BinaryPackages {
		io.WriteString(h, spec+"\n")
	}
	for _, spec := range req.SourcePackages {
		io.WriteString(h, spec+"\n")
	}
	for _, spec := range libDeps {
		io.WriteString(h, spec+"\n")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// checkCache compares the persisted hash against the current fingerprint.
// Anything wrong with the hash file degrades to a miss with a logged reason;
// it never fails the build.
func (e *Engine) checkCache(fingerprint, envDir string) (bool, string) {
	bs, err := os.ReadFile(filepath.Join(e.cacheDir, hashFileName))
	switch {
	case os.IsNotExist(err):
		e.log.Debugf("no previous dependency hash found, installing from scratch")
		return false, "first-build"
	case err != nil:
		e.log.Warnf("could not read dependency hash file: %v", err)
		return false, "hash-unreadable"
	}

	if strings.TrimSpace(string(bs)) != fingerprint {
		e.log.Debugf("dependency specification changed, reinstalling")
		return false, "dependencies-changed"
	}
	if _, err := os.Stat(envDir); err != nil {
		e.log.Warnf("dependency hash matches but cached environment is gone, reinstalling")
		return false, "environment-missing"
	}
	return true, ""
}

// validateStrict runs the strict-mode pre-checks: requirement files must be
// declared, and every transitively-required package name must appear in one
// of them.
func (e *Engine) validateStrict(req Request, libDeps []string) error {
	if len(req.RequirementFiles) == 0 {
		return &Error{
			Kind: KindConfiguration,
			Msg:  "strict dependencies requested but no requirement files declared",
		}
	}

	pinned := make(map[string]bool)
	for _, path := range req.RequirementFiles {
		names, err := namesFromRequirementFile(path)
		if err != nil {
			return fmt.Errorf("read requirement file: %w", err)
		}
		for name := range names {
			pinned[name] = true
		}
	}

	var missing []string
	for _, spec := range slices.Concat(libDeps, req.BinaryPackages, req.SourcePackages) {
		name := specName(spec)
		if name != "" && !pinned[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		missing = dedupSorted(missing)
		return &Error{Kind: KindMissingDependency, Missing: missing}
	}
	return nil
}

// install creates a fresh environment and installs everything the request
// names. Any subprocess failure aborts immediately; no partial results are
// kept as valid.
func (e *Engine) install(ctx context.Context, req Request, libDeps []string, envDir string) error {
	if err := os.RemoveAll(envDir); err != nil {
		return err
	}
	if err := e.runner.Run(ctx, e.python, "-m", "venv", envDir); err != nil {
		return err
	}

	pip := e.layout.PipExecutable(envDir)
	if err := e.ensureMinimumPip(ctx, pip); err != nil {
		return err
	}

	if req.Strict {
		return e.installStrict(ctx, req, pip)
	}
	return e.installLegacy(ctx, req, libDeps, pip)
}

// ensureMinimumPip upgrades pip from the pinned source when the environment
// ships one older than the minimum known-good version. This step is not part
// of the fingerprint: it runs on every environment creation.
func (e *Engine) ensureMinimumPip(ctx context.Context, pip string) error {
	out, err := e.runner.Output(ctx, pip, "--version")
	if err != nil {
		return err
	}
	major, minor, ok := parsePipVersion(out)
	if !ok {
		e.log.Warnf("could not parse pip version from %q, upgrading to be safe", strings.TrimSpace(out))
	} else if major > minimumPipMajor || (major == minimumPipMajor && minor >= minimumPipMinor) {
		return nil
	}
	e.log.Debugf("upgrading pip from pinned source")
	return e.runner.Run(ctx, pip, "install", pinnedPipSource)
}

func parsePipVersion(out string) (major, minor int, ok bool) {
	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "pip" {
		return 0, 0, false
	}
	parts := strings.Split(fields[1], ".")
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// installLegacy is the permissive mode: binary-allowed packages first, then
// source-only packages, then the union of requirement files and charmlib
// dependencies, forced from source.
func (e *Engine) installLegacy(ctx context.Context, req Request, libDeps []string, pip string) error {
	if len(req.BinaryPackages) > 0 {
		e.log.Warnf("allowing binary wheels for %s; this may pull in additional binary transitive dependencies",
			strings.Join(req.BinaryPackages, ", "))
		args := append([]string{"install"}, req.BinaryPackages...)
		if err := e.runner.Run(ctx, pip, args...); err != nil {
			return err
		}
	}

	if len(req.SourcePackages) > 0 {
		args := append([]string{"install", "--no-binary", ":all:"}, req.SourcePackages...)
		if err := e.runner.Run(ctx, pip, args...); err != nil {
			return err
		}
	}

	// Charmlib dependencies already pinned in a requirement file are left to
	// the file, to keep the resolver from seeing the same name twice.
	pinned := make(map[string]bool)
	for _, path := range req.RequirementFiles {
		names, err := namesFromRequirementFile(path)
		if err != nil {
			return fmt.Errorf("read requirement file: %w", err)
		}
		for name := range names {
			pinned[name] = true
		}
	}
	var extra []string
	for _, spec := range libDeps {
		if name := specName(spec); name == "" || !pinned[name] {
			extra = append(extra, spec)
		}
	}

	if len(req.RequirementFiles) == 0 && len(extra) == 0 {
		return nil
	}
	args := []string{"install", "--no-binary", ":all:"}
	for _, path := range req.RequirementFiles {
		args = append(args, "--requirement", path)
	}
	args = append(args, extra...)
	return e.runner.Run(ctx, pip, args...)
}

// installStrict installs exactly what the requirement files pin, without
// resolving anything, and verifies the result is consistent.
func (e *Engine) installStrict(ctx context.Context, req Request, pip string) error {
	args := []string{"install", "--no-deps"}
	for _, path := range req.RequirementFiles {
		args = append(args, "--requirement", path)
	}
	args = append(args, req.BinaryPackages...)
	if err := e.runner.Run(ctx, pip, args...); err != nil {
		return err
	}
	return e.runner.Run(ctx, pip, "check")
}

func dedupSorted(specs []string) []string {
	out := slices.Clone(specs)
	sort.Strings(out)
	return slices.Compact(out)
}

// copyTree copies a directory recursively, preserving file modes and
// recreating symlinks verbatim.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(dst, rel)

		switch {
		case d.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(target, dest)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
				return err
			}
			// MkdirAll perm is subject to the umask; restore the exact bits.
			return os.Chmod(dest, info.Mode().Perm())
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			in, err := os.Open(path)
			if err != nil {
				return err
			}
			defer in.Close()
			out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, in); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			// OpenFile perm is subject to the umask; restore the exact bits.
			return os.Chmod(dest, info.Mode().Perm())
		}
	})
}
