package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/duet/internal/ui"
	"github.com/zhubert/duet/internal/workflow"
)

var stage3ForceTranscript bool

var stage3Cmd = &cobra.Command{
	Use:   "stage3",
	Short: "Finalize model B and complete the task",
	Long: `Captures the model B after-state snapshot, diff, and transcript, writes
the task summary, and resets the working tree for the next task. Model A's
transcript is backfilled if it could not be captured during stage2.`,
	Args: cobra.NoArgs,
	RunE: runStage3,
}

func init() {
	stage3Cmd.Flags().BoolVar(&stage3ForceTranscript, "force-transcript", false, "Replace an already captured transcript")
	rootCmd.AddCommand(stage3Cmd)
}

func runStage3(cmd *cobra.Command, args []string) error {
	if err := validatePrereqs(); err != nil {
		return err
	}
	deps, err := buildDeps()
	if err != nil {
		return err
	}

	if err := workflow.Stage3(cmd.Context(), deps, workflow.Stage3Options{
		ForceTranscript: stage3ForceTranscript,
	}); err != nil {
		return err
	}

	fmt.Println(ui.SuccessStyle.Render("Task complete."))
	return nil
}
