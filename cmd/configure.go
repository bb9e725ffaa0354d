package cmd

import (
	"fmt"

	huh "charm.land/huh/v2"
	"github.com/spf13/cobra"

	"github.com/zhubert/duet/internal/claude"
	"github.com/zhubert/duet/internal/errors"
	"github.com/zhubert/duet/internal/paths"
	"github.com/zhubert/duet/internal/ui"
)

var configureKeyPath string

var configureKeyCmd = &cobra.Command{
	Use:   "configure-key",
	Short: "Store the Anthropic API key for assistant sessions",
	Long: `Prompts for the API key twice and writes it to the per-user config
location with owner-only permissions. The key is never written inside the
repository. Set ` + claude.APIKeyEnv + ` to override the stored key.`,
	Args: cobra.NoArgs,
	RunE: runConfigureKey,
}

func init() {
	configureKeyCmd.Flags().StringVar(&configureKeyPath, "path", "", "Write the key to this file instead of the default location")
	rootCmd.AddCommand(configureKeyCmd)
}

func runConfigureKey(cmd *cobra.Command, args []string) error {
	target := configureKeyPath
	if target == "" {
		var err error
		target, err = paths.APIKeyFilePath()
		if err != nil {
			return err
		}
	}

	var key, confirm string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Anthropic API key").
			EchoMode(huh.EchoModePassword).
			Value(&key),
		huh.NewInput().
			Title("Confirm API key").
			EchoMode(huh.EchoModePassword).
			Value(&confirm),
	))
	if err := form.Run(); err != nil {
		return err
	}

	if key != confirm {
		return errors.ConfigInvalid("keys do not match")
	}

	if err := claude.StoreAPIKey(target, key); err != nil {
		return err
	}

	fmt.Println(ui.SuccessStyle.Render("API key stored at " + target))
	return nil
}
