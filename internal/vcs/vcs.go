// Package vcs derives the revision marker written into built charms.
package vcs

import (
	"errors"
	"fmt"

	git "github.com/go-git/go-git/v5"
)

// ErrNoRepository is returned when the source tree is not inside a git
// repository (or the repository has no commits yet). Callers treat this as
// "no revision available", not as a failure.
var ErrNoRepository = errors.New("no git repository")

// Describe returns a short revision identifier for the source tree: the
// abbreviated HEAD commit hash, with a "-dirty" suffix when the worktree has
// uncommitted changes.
func Describe(sourceDir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(sourceDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", ErrNoRepository
		}
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		// An initialized repository without commits has no HEAD to describe.
		return "", ErrNoRepository
	}
	revision := head.Hash().String()[:12]

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	if !status.IsClean() {
		revision += "-dirty"
	}

	return revision, nil
}
