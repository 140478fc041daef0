package main

import (
	"context"
	"errors"
	"os"

	"github.com/charmtools/charmforge/internal/builder"
	"github.com/charmtools/charmforge/internal/deps"
)

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return exitCode(err)
	}
	return 0
}

// exitCode maps failures to distinct codes so that callers can tell a bad
// request apart from a dependency problem without parsing log output.
func exitCode(err error) int {
	var depErr *deps.Error
	switch {
	case errors.Is(err, builder.ErrBadRequest):
		return 2
	case errors.As(err, &depErr):
		switch depErr.Kind {
		case deps.KindConfiguration:
			return 3
		case deps.KindMissingDependency:
			return 4
		case deps.KindSubprocess:
			return 5
		}
	}
	return 1
}
