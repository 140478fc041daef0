package deps

import (
	"fmt"
	"strings"
)

// ErrorKind discriminates the fatal failure modes of dependency resolution.
type ErrorKind int

const (
	// KindConfiguration marks request-shape violations detected before any
	// subprocess runs, e.g. strict mode without requirement files.
	KindConfiguration ErrorKind = iota

	// KindMissingDependency marks the strict-mode pre-check failing because
	// transitively-required packages are absent from the requirement files.
	KindMissingDependency

	// KindSubprocess marks a package-manager or environment-creation command
	// exiting non-zero or failing to launch.
	KindSubprocess
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindMissingDependency:
		return "missing-dependency"
	case KindSubprocess:
		return "subprocess"
	}
	return "unknown"
}

// Error is the single error type surfaced by the dependency engine. The kind
// selects which fields carry detail: Command and ExitCode for subprocess
// failures, Missing for the strict-mode pre-check.
type Error struct {
	Kind     ErrorKind
	Msg      string
	Command  []string
	ExitCode int
	Missing  []string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingDependency:
		return fmt.Sprintf("packages not found in requirement files: %s", strings.Join(e.Missing, ", "))
	case KindSubprocess:
		if e.ExitCode != 0 {
			return fmt.Sprintf("command %q failed with exit code %d", strings.Join(e.Command, " "), e.ExitCode)
		}
		return fmt.Sprintf("command %q failed: %s", strings.Join(e.Command, " "), e.Msg)
	}
	return e.Msg
}
