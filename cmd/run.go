package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/duet/internal/claude"
	"github.com/zhubert/duet/internal/ui"
	"github.com/zhubert/duet/internal/workflow"
)

var (
	runModelA      string
	runModelB      string
	runDryRun      bool
	runSkipPrompts bool
	runAllowDirty  bool
)

var runCmd = &cobra.Command{
	Use:   "run TASK_ID",
	Short: "Drive the full three-stage workflow for one task",
	Long: `Runs stage1, stage2, and stage3 in sequence with a pause between each
stage so the annotator can review the state before the next capture.

--dry-run skips the assistant launches and writes placeholder transcripts,
which exercises the full snapshot and diff pipeline without a claude CLI
or API key.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVar(&runModelA, "model-a", "", "Model for slot A (random if omitted)")
	runCmd.Flags().StringVar(&runModelB, "model-b", "", "Model for slot B (opposite of A if omitted)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Skip assistant launches, write placeholder transcripts")
	runCmd.Flags().BoolVar(&runSkipPrompts, "skip-prompts", false, "Do not pause between stages")
	runCmd.Flags().BoolVar(&runAllowDirty, "allow-dirty", false, "Proceed without confirmation on an unclean tree")
	rootCmd.AddCommand(runCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	if runDryRun {
		os.Setenv(claude.LaunchDisabledEnv, "1")
		fmt.Println(ui.MutedStyle.Render("Dry run: assistant launches disabled"))
	}

	if err := validatePrereqs(); err != nil {
		return err
	}
	deps, err := buildDeps()
	if err != nil {
		return err
	}

	fmt.Println(ui.TitleStyle.Render("Stage 1: model A session"))
	_, err = workflow.Stage1(cmd.Context(), deps, workflow.Stage1Options{
		TaskID:     args[0],
		ModelID:    runModelA,
		AllowDirty: runAllowDirty,
	})
	if err != nil {
		return dirtyAbort(err)
	}

	if err := pause("Model A session finished. Capture its results and start model B?"); err != nil {
		return err
	}

	fmt.Println(ui.TitleStyle.Render("Stage 2: model B session"))
	if _, err := workflow.Stage2(cmd.Context(), deps, workflow.Stage2Options{
		ModelID: runModelB,
	}); err != nil {
		return err
	}

	if err := pause("Model B session finished. Capture its results and finish the task?"); err != nil {
		return err
	}

	fmt.Println(ui.TitleStyle.Render("Stage 3: finalize"))
	if err := workflow.Stage3(cmd.Context(), deps, workflow.Stage3Options{}); err != nil {
		return err
	}

	fmt.Println(ui.SuccessStyle.Render("Task complete."))
	return nil
}

func pause(title string) error {
	if runSkipPrompts {
		return nil
	}
	ok, err := confirmPrompt(title)
	if err != nil {
		return err
	}
	if !ok {
		return workflow.ErrAborted
	}
	return nil
}
