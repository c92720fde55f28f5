package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configWritePath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration, or write it to a file",
	Long: `Prints the configuration after defaults, the config file and
PAGE_EXPLORER_* environment overrides have been applied.

With --write, saves it to the given path instead. The result is a
complete config file to edit.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().StringVarP(&configWritePath, "write", "w", "", "Save the effective configuration to this path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configWritePath != "" {
		if err := cfg.Save(configWritePath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configWritePath)
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
