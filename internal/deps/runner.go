package deps

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/charmtools/charmforge/internal/logging"
)

// CommandRunner abstracts subprocess execution so tests can observe the exact
// commands the engine would run without a Python toolchain present.
type CommandRunner interface {
	// Run executes the command and waits for it, failing on non-zero exit.
	Run(ctx context.Context, name string, args ...string) error
	// Output executes the command and returns its combined standard output.
	Output(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct {
	log *logging.Logger
}

// NewExecRunner returns the production CommandRunner backed by os/exec. All
// invocations are blocking and strictly sequential.
func NewExecRunner(log *logging.Logger) CommandRunner {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return &execRunner{log: log}
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) error {
	r.log.Debugf("running: %s %s", name, strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	return commandError(err, stderr.String(), name, args)
}

func (r *execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	r.log.Debugf("running: %s %s", name, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = string(exitErr.Stderr)
		}
		return "", commandError(err, stderr, name, args)
	}
	return string(out), nil
}

func commandError(err error, stderr, name string, args []string) error {
	e := &Error{
		Kind:    KindSubprocess,
		Command: append([]string{name}, args...),
		Msg:     err.Error(),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e.ExitCode = exitErr.ExitCode()
	}
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		e.Msg = stderr
	}
	return e
}
