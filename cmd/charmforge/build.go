package main

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/charmtools/charmforge/internal/config"
	"github.com/charmtools/charmforge/internal/logging"
	"github.com/charmtools/charmforge/internal/progress"
	"github.com/charmtools/charmforge/internal/service"
)

var buildParams struct {
	configFiles []string
	projectDir  string
	buildDir    string
	parallelism int
	python      string
	noProgress  bool
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build and pack every part of the project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runBuild(cmd.Context())
	},
}

func init() {
	addBuildFlags(buildCmd.Flags())
}

func addBuildFlags(fs *pflag.FlagSet) {
	fs.StringSliceVarP(&buildParams.configFiles, "config", "c", []string{"charmforge.yaml"},
		"project configuration file or directory (repeatable; files are merged)")
	fs.StringVar(&buildParams.projectDir, "project-dir", ".", "project root directory")
	fs.StringVar(&buildParams.buildDir, "build-dir", "build", "directory for install trees and packed archives")
	fs.IntVar(&buildParams.parallelism, "parallelism", runtime.NumCPU(), "maximum number of parts built concurrently")
	fs.StringVar(&buildParams.python, "python", "", "python interpreter used to create dependency environments")
	fs.BoolVar(&buildParams.noProgress, "no-progress", false, "disable the progress bar")
}

func runBuild(ctx context.Context) error {
	log := newLogger()

	bs, err := config.Merge(buildParams.configFiles, true)
	if err != nil {
		return err
	}
	root, err := config.Parse(bs)
	if err != nil {
		return err
	}

	// Debug logging and a progress bar on the same terminal garble each other.
	var bar *progress.Bar
	if !buildParams.noProgress && log.Level() < logging.LevelDebug {
		bar = progress.New(os.Stderr, len(root.Parts), "building parts")
	}

	statuses, err := service.NewManager(root, buildParams.projectDir, buildParams.buildDir).
		WithParallelism(buildParams.parallelism).
		WithPython(buildParams.python).
		WithLogger(log).
		WithProgress(bar).
		Run(ctx)
	bar.Finish()

	renderStatuses(statuses)
	return err
}

func renderStatuses(statuses []service.PartStatus) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Part", "State", "Archive", "Revision", "Deps Cache", "Duration")
	for _, s := range statuses {
		cache := "miss"
		if s.CacheHit {
			cache = "hit"
		}
		table.Append(s.Part, s.State.String(), s.Archive, s.Revision, cache,
			s.Duration.Round(time.Millisecond).String())
	}
	table.Render()
}
