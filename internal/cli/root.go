// Package cli implements the vuramp command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// envPrefix is prepended to flag names to form environment variables:
// --log-level is also VURAMP_LOG_LEVEL.
const envPrefix = "VURAMP"

// NewRootCmd builds the command tree. Each call returns a fresh tree with its
// own flag and environment bindings.
func NewRootCmd() *cobra.Command {
	v := newViper()

	rootCmd := &cobra.Command{
		Use:     "vuramp",
		Short:   "Staged virtual-user load generator",
		Version: version,
		Long: `vuramp runs a scenario with a population of virtual users that follows a
staged ramp: every stage moves the number of concurrently looping users
linearly towards its target over its duration.

Scenarios are YAML/JSON documents describing HTTP requests, or JavaScript
scripts exporting a default function.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogging(v, cmd.ErrOrStderr())
		},
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	v.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newRunCmd(v))
	return rootCmd
}

// Execute runs the command line and reports any error on stderr.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// configureLogging sets up the standard logrus logger from --log-level and
// --log-format.
func configureLogging(v *viper.Viper, out io.Writer) error {
	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(out)

	switch format := v.GetString("log-format"); format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q: expected text or json", format)
	}
	return nil
}
