package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/duet/internal/claude"
	"github.com/zhubert/duet/internal/cli"
	"github.com/zhubert/duet/internal/paths"
	"github.com/zhubert/duet/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the tools and credentials duet depends on",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println(ui.TitleStyle.Render("duet prerequisites"))
	results := cli.CheckAll(cli.DefaultPrerequisites())
	fmt.Print(cli.FormatCheckResults(results))

	if _, err := claude.LoadAPIKey(); err != nil {
		fmt.Println(ui.WarningStyle.Render("✗ API key: not configured (run 'duet configure-key')"))
	} else {
		fmt.Println(ui.SuccessStyle.Render("✓ API key: configured"))
	}

	if paths.IsLegacyLayout() {
		fmt.Println(ui.MutedStyle.Render("Using legacy ~/.duet layout"))
	}
	return nil
}
