package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/streamstop/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or check the streamstop configuration",
	Long: `View or check the streamstop configuration.

Without arguments, displays the effective configuration: defaults, then the
config file, then STREAMSTOP_* environment variables, then flags.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE:  runConfigValidate,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == formatText {
		// Show where config is being read from
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(out, "# Config file: %s\n", used)
		} else {
			fmt.Fprintln(out, "# Config file: (none - using defaults)")
		}
		fmt.Fprintf(out, "# Base directory: %s\n", cfg.ResolveBaseDir())
		format = formatYAML
	}
	return writeStructured(out, format, settingsView())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configReadErr != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("failed to read config file: %w", configReadErr)}
	}
	if _, err := config.Load(); err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(cmd.OutOrStdout(), used)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), config.ConfigFile())
	return nil
}

// settingsView returns the merged settings keyed as in the config file.
func settingsView() map[string]any {
	settings := viper.AllSettings()
	delete(settings, "config")
	return settings
}
