package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/Iron-Ham/streamstop/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "streamstop",
	Short: "Stop RTSP recording streams and archive their files",
	Long: `Streamstop shuts down the RTSP recorder: it stops the worker running in
each rtsp_streamN screen session, promotes the in-progress recordings,
moves finished files into the dated archive and cleans up the media
server, companion daemon and temporary env files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// configReadErr holds a config file that exists but could not be parsed.
var configReadErr error

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which subcommands use for
// cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/streamstop/config.yaml)")
	flags.String("base-dir", "", "recorder installation directory (default is the working directory)")
	flags.String("profile", "", "profile whose .env.streamN files are read")
	flags.Int("num-streams", 0, "number of stream indices to handle")
	flags.Bool("debug", false, "log at debug level")
	flags.Bool("no-syslog", false, "do not send log entries to syslog")
	flags.StringP("output", "o", "text", "output format: text, json or yaml")
	// --script-dir is the recorder's historical name for the base directory.
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "script-dir" {
			name = "base-dir"
		}
		return pflag.NormalizedName(name)
	})

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("base_dir", flags.Lookup("base-dir"))
	_ = viper.BindPFlag("profile", flags.Lookup("profile"))
	_ = viper.BindPFlag("num_streams", flags.Lookup("num-streams"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		for _, candidate := range []string{config.ConfigFile(), "streamstop.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				viper.SetConfigFile(candidate)
				break
			}
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("STREAMSTOP")
	// Replace dots with underscores for nested keys in env vars
	// e.g., STREAMSTOP_TERMINATE_GRACE_SECONDS for terminate.grace_seconds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configReadErr = nil
	if viper.ConfigFileUsed() == "" {
		return
	}
	if err := viper.ReadInConfig(); err != nil {
		configReadErr = err
	}
}
