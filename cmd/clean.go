package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/duet/internal/logger"
	"github.com/zhubert/duet/internal/session"
	"github.com/zhubert/duet/internal/ui"
)

var cleanSkipConfirm bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clear active session pointers and log files",
	Long: `Removes both slot pointers and all duet log files. Use this to recover
from an interrupted stage that left a pointer at an incomplete session: clean,
delete the incomplete session directory, and re-run the stage.

Task folders and their captured artifacts are never touched.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVarP(&cleanSkipConfirm, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	if !cleanSkipConfirm {
		ok, err := confirmPrompt("Clear active session pointers and logs?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println(ui.MutedStyle.Render("Nothing cleaned."))
			return nil
		}
	}

	deps, err := buildDeps()
	if err != nil {
		return err
	}
	if err := deps.Store.ClearPointer(session.SlotA); err != nil {
		return err
	}
	if err := deps.Store.ClearPointer(session.SlotB); err != nil {
		return err
	}

	logsCleared, err := logger.ClearLogs()
	if err != nil {
		fmt.Println(ui.WarningStyle.Render(fmt.Sprintf("Warning: error clearing logs: %v", err)))
	}

	fmt.Println(ui.SuccessStyle.Render("Session pointers cleared."))
	if logsCleared > 0 {
		fmt.Printf("Removed %d log file(s).\n", logsCleared)
	}
	return nil
}
