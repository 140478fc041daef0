// Package shim generates the dispatch entrypoint script and the legacy hook
// symlinks, so that runtimes using either calling convention end up in the
// staged entrypoint.
package shim

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmtools/charmforge/internal/logging"
)

const (
	dispatchName = "dispatch"
	hooksDirName = "hooks"
)

// dispatchTemplate has exactly one substitution point: the entrypoint path
// relative to the install root.
const dispatchTemplate = `#!/bin/sh

JUJU_DISPATCH_PATH="${JUJU_DISPATCH_PATH:-$0}" PYTHONPATH=lib:venv \
  exec ./%s
`

// mandatoryHooks always get a symlink to the dispatcher, whether or not the
// charm ships an implementation for them.
var mandatoryHooks = []string{"install", "start", "upgrade-charm"}

type Generator struct {
	installDir string
	log        *logging.Logger
}

func New(installDir string, log *logging.Logger) *Generator {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return &Generator{installDir: installDir, log: log}
}

// Generate writes the dispatch script (if absent) and reconciles the hooks
// directory. Hooks that resolve directly to the staged entrypoint are legacy
// links; they are removed and recreated pointing at the dispatcher instead.
// An already existing dispatch script is never touched.
func (g *Generator) Generate(entrypoint string) error {
	dispatchPath := filepath.Join(g.installDir, dispatchName)

	if _, err := os.Lstat(dispatchPath); os.IsNotExist(err) {
		rel, err := filepath.Rel(g.installDir, entrypoint)
		if err != nil {
			return fmt.Errorf("entrypoint outside install dir: %w", err)
		}
		content := fmt.Sprintf(dispatchTemplate, filepath.ToSlash(rel))
		if err := os.WriteFile(dispatchPath, []byte(content), 0o755); err != nil {
			return err
		}
		g.log.Debugf("created dispatch script %q", dispatchPath)
	} else if err != nil {
		return err
	} else {
		g.log.Debugf("dispatch script already present, leaving it alone")
	}

	hooksDir := filepath.Join(g.installDir, hooksDirName)
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return err
	}

	// Hooks linked straight at the entrypoint predate the dispatcher; they
	// need to be redirected through it.
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypoint)
	if err != nil {
		return fmt.Errorf("resolve entrypoint: %w", err)
	}

	entries, err := os.ReadDir(hooksDir)
	if err != nil {
		return err
	}

	var redirected []string
	for _, entry := range entries {
		hookPath := filepath.Join(hooksDir, entry.Name())
		resolved, err := filepath.EvalSymlinks(hookPath)
		if err != nil {
			continue // dangling link, leave it be
		}
		if resolved == resolvedEntrypoint {
			if err := os.Remove(hookPath); err != nil {
				return err
			}
			redirected = append(redirected, entry.Name())
			g.log.Debugf("redirecting legacy hook %q through dispatch", entry.Name())
		}
	}

	dispatchTarget, err := filepath.Rel(hooksDir, dispatchPath)
	if err != nil {
		return err
	}

	names := slices.Clone(mandatoryHooks)
	names = append(names, redirected...)
	for _, name := range names {
		hookPath := filepath.Join(hooksDir, name)
		if _, err := os.Lstat(hookPath); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if err := os.Symlink(dispatchTarget, hookPath); err != nil {
			return err
		}
	}

	return nil
}
