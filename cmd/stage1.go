package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/duet/internal/ui"
	"github.com/zhubert/duet/internal/workflow"
)

var (
	stage1ModelID    string
	stage1AllowDirty bool
)

var stage1Cmd = &cobra.Command{
	Use:   "stage1 TASK_ID",
	Short: "Start the model A session for a task",
	Long: `Validates the repository, snapshots its current state, and launches the
model A assistant session. The model is chosen at random from the configured
pair unless --model-id picks one explicitly.

When the assistant session ends, run 'duet stage2' to finalize model A and
start model B.`,
	Args: cobra.ExactArgs(1),
	RunE: runStage1,
}

func init() {
	stage1Cmd.Flags().StringVar(&stage1ModelID, "model-id", "", "Model for slot A (random if omitted)")
	stage1Cmd.Flags().BoolVar(&stage1AllowDirty, "allow-dirty", false, "Proceed without confirmation on an unclean tree")
	rootCmd.AddCommand(stage1Cmd)
}

func runStage1(cmd *cobra.Command, args []string) error {
	if err := validatePrereqs(); err != nil {
		return err
	}
	deps, err := buildDeps()
	if err != nil {
		return err
	}

	_, err = workflow.Stage1(cmd.Context(), deps, workflow.Stage1Options{
		TaskID:     args[0],
		ModelID:    stage1ModelID,
		AllowDirty: stage1AllowDirty,
	})
	if err != nil {
		return dirtyAbort(err)
	}

	fmt.Println(ui.SuccessStyle.Render("Model A session complete. Run 'duet stage2' when ready."))
	return nil
}
