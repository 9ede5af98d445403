package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a config file with default settings",
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		baseURL, _ := cmd.Flags().GetString("api-url")

		c := config.DefaultConfig()
		if baseURL != "" {
			c.API.BaseURL = baseURL
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if err := config.Write(loader.Path(), c, force); err != nil {
			if !force {
				return fmt.Errorf("%w (use --force to overwrite)", err)
			}
			return err
		}
		fmt.Printf("%s Wrote %s\n", out.Styles().Success.Render("✓"), loader.Path())
		fmt.Printf("   Set the session token with TSYNC_API_TOKEN or api.token\n")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and TSYNC_*
environment overrides are applied. The API token is redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.API.Token != "" {
			shown.API.Token = "[redacted]"
		}

		if structured() {
			return printStructured(shown)
		}
		data, err := config.Encode(&shown)
		if err != nil {
			return err
		}
		fmt.Printf("# %s\n%s", loader.Path(), data)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configInitCmd.Flags().String("api-url", "", "API base URL to write")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
