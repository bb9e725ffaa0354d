// Package cmd wires the duet command tree. Each stage of the annotation
// workflow is its own subcommand; `run` drives all three in sequence.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	huh "charm.land/huh/v2"
	"github.com/spf13/cobra"

	"github.com/zhubert/duet/internal/claude"
	"github.com/zhubert/duet/internal/cli"
	"github.com/zhubert/duet/internal/config"
	"github.com/zhubert/duet/internal/git"
	"github.com/zhubert/duet/internal/logger"
	"github.com/zhubert/duet/internal/session"
	"github.com/zhubert/duet/internal/snapshot"
	"github.com/zhubert/duet/internal/ui"
	"github.com/zhubert/duet/internal/workflow"
)

var (
	debugMode             bool
	quietMode             bool
	repoPath              string
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "duet",
	Short: "Two-model annotation workflow for coding tasks",
	Long: `Duet runs a coding task twice, once per AI model, and captures the
evidence of each run: before/after snapshots of the repository, a git diff
against the shared base commit, and the assistant conversation transcript.
Artifacts land in a TASK-<id>/ folder next to the repository, one session
directory per model.

The workflow is three stages: stage1 starts the model A session, stage2
finalizes A and starts model B from the same base commit, stage3 finalizes
B and writes the task summary. Use 'duet run' to drive all three with
pauses in between.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", true, "Enable debug logging (on by default)")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Reduce logging to info level only")
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "Path to the repository being annotated")
}

func initLogging() {
	if quietMode {
		logger.SetDebug(false)
	} else if debugMode {
		logger.SetDebug(true)
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	defer logger.Close()
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("duet %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("duet %s\n", version)
}

// buildDeps assembles the workflow dependencies for the configured repo.
func buildDeps() (*workflow.Deps, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadAndMerge(abs)
	if err != nil {
		return nil, err
	}

	registry, err := claude.NewRegistry(cfg.Models)
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore(abs)
	if err != nil {
		return nil, err
	}

	return &workflow.Deps{
		Git:       git.NewService(),
		Snapshots: snapshot.NewService(),
		Store:     store,
		Launcher:  claude.NewLauncher(),
		Registry:  registry,
		Config:    cfg,
		RepoPath:  abs,
		Confirm:   confirmPrompt,
		Out:       os.Stdout,
	}, nil
}

func validatePrereqs() error {
	prereqs := cli.DefaultPrerequisites()
	if err := cli.ValidateRequired(prereqs); err != nil {
		return fmt.Errorf("%v\n\nRun 'duet doctor' to see all prerequisites", err)
	}
	return nil
}

// dirtyAbort prints remediation advice when the user declined the dirty-tree
// override. The error is returned unchanged so the process exits non-zero.
func dirtyAbort(err error) error {
	if errors.Is(err, workflow.ErrAborted) {
		fmt.Println(ui.WarningStyle.Render("Aborted. Commit or stash your changes and try again."))
	}
	return err
}

func confirmPrompt(title string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Continue").
			Negative("Abort").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}
