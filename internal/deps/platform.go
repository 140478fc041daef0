package deps

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
)

// envLayout hides the virtualenv layout differences between platform
// families. One implementation is selected at engine construction.
type envLayout interface {
	// PipExecutable returns the path of the pip entrypoint inside the env.
	PipExecutable(envDir string) string
	// SitePackages returns the runtime-library directory of the env.
	SitePackages(envDir string) (string, error)
}

func layoutForHost() envLayout {
	if runtime.GOOS == "windows" {
		return windowsLayout{}
	}
	return posixLayout{}
}

type posixLayout struct{}

func (posixLayout) PipExecutable(envDir string) string {
	return filepath.Join(envDir, "bin", "pip")
}

func (posixLayout) SitePackages(envDir string) (string, error) {
	// The interpreter version is baked into the path (lib/python3.x), so
	// glob for it rather than asking the interpreter.
	matches, err := filepath.Glob(filepath.Join(envDir, "lib", "python*", "site-packages"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no site-packages directory under %s", envDir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

type windowsLayout struct{}

func (windowsLayout) PipExecutable(envDir string) string {
	return filepath.Join(envDir, "Scripts", "pip.exe")
}

func (windowsLayout) SitePackages(envDir string) (string, error) {
	return filepath.Join(envDir, "Lib", "site-packages"), nil
}
