// Package commands implements the scriptfx command line.
package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/justyntemme/scriptfx/pkg/bridge"
	"github.com/justyntemme/scriptfx/pkg/framework/config"
	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/spf13/cobra"
)

var (
	configPath string
	engineFlag string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scriptfx",
	Short: "scriptfx - script-driven audio effects",
	Long: `scriptfx runs short user scripts (HCL expressions or JavaScript) as an
audio effect, with a real-time safe bridge between the audio callback and
the script engine.

Use check to compile a script, render to run it offline through the full
bridge, and serve to run a simulated host with the editor link.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", v, c)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default ./"+config.FileName+" when present)")
	rootCmd.PersistentFlags().StringVarP(&engineFlag, "engine", "e", "", "script engine, one of "+fmt.Sprint(bridge.EngineNames()))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error or off")
}

// loadConfig reads the configuration named by --config, or ./scriptfx.toml
// when it exists, and applies command-line overrides. It also installs the
// default logger.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.FileName); err == nil {
			path = config.FileName
		} else if !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, failure(cmd.ErrOrStderr(), "Invalid configuration", err.Error(),
				"Fix the file or pass another one with --config")
		}
	}
	if engineFlag != "" {
		cfg.Bridge.Engine = engineFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, failure(cmd.ErrOrStderr(), "Invalid settings", err.Error())
	}

	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return cfg, err
	}
	debug.SetDefault(logger)
	return cfg, nil
}

// readScript returns the script text of a file argument, "-" meaning stdin.
func readScript(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", failure(cmd.ErrOrStderr(), "Cannot read script", err.Error())
	}
	return string(data), nil
}
