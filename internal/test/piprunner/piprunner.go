// Package piprunner provides a deps.CommandRunner for tests: commands are
// recorded instead of executed, and environment creation fabricates the
// site-packages layout so later pipeline steps have something to copy.
package piprunner

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmtools/charmforge/internal/deps"
)

type Recorder struct {
	// PipVersion is what `pip --version` reports; default 22.0.4.
	PipVersion string
	// FailOn makes any command whose argv contains the substring fail.
	FailOn string

	Commands [][]string
}

func (r *Recorder) Run(_ context.Context, name string, args ...string) error {
	cmd := append([]string{name}, args...)
	r.Commands = append(r.Commands, cmd)

	if r.FailOn != "" && strings.Contains(strings.Join(cmd, " "), r.FailOn) {
		return &deps.Error{Kind: deps.KindSubprocess, Command: cmd, ExitCode: 1}
	}

	if len(args) == 3 && args[0] == "-m" && args[1] == "venv" {
		site := filepath.Join(args[2], "lib", "python3.11", "site-packages")
		if err := os.MkdirAll(site, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(site, "installed.marker"), nil, 0o644)
	}
	return nil
}

func (r *Recorder) Output(_ context.Context, name string, args ...string) (string, error) {
	r.Commands = append(r.Commands, append([]string{name}, args...))
	version := r.PipVersion
	if version == "" {
		version = "22.0.4"
	}
	return "pip " + version + " from /cache/venv (python 3.11)", nil
}
