package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/duet/internal/ui"
	"github.com/zhubert/duet/internal/workflow"
)

var (
	stage2ModelID         string
	stage2ForceTranscript bool
)

var stage2Cmd = &cobra.Command{
	Use:   "stage2",
	Short: "Finalize model A and start the model B session",
	Long: `Captures the model A after-state snapshot, diff, and transcript, resets
the working tree to the base commit, and launches the model B session with
the opposite model. Model A's artifacts are persisted before the tree is
touched.

Run 'duet stage3' after the model B session ends.`,
	Args: cobra.NoArgs,
	RunE: runStage2,
}

func init() {
	stage2Cmd.Flags().StringVar(&stage2ModelID, "model-id", "", "Model for slot B (opposite of A if omitted)")
	stage2Cmd.Flags().BoolVar(&stage2ForceTranscript, "force-transcript", false, "Replace an already captured transcript")
	rootCmd.AddCommand(stage2Cmd)
}

func runStage2(cmd *cobra.Command, args []string) error {
	if err := validatePrereqs(); err != nil {
		return err
	}
	deps, err := buildDeps()
	if err != nil {
		return err
	}

	if _, err := workflow.Stage2(cmd.Context(), deps, workflow.Stage2Options{
		ModelID:         stage2ModelID,
		ForceTranscript: stage2ForceTranscript,
	}); err != nil {
		return err
	}

	fmt.Println(ui.SuccessStyle.Render("Model B session complete. Run 'duet stage3' when ready."))
	return nil
}
