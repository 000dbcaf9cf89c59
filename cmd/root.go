// Package cmd provides the panes command-line interface.
//
// Configuration is read from, highest priority first:
//
//  1. command-line flags (--port, --log-level, ...)
//  2. PANES_<SECTION>_<KEY> environment variables, e.g. PANES_SERVER_PORT
//  3. the file named by --config or PANES_CONFIG_FILE
//  4. .panes.yml in the current directory
package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/panes/internal/config"
	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "panes",
	Short: "A multi-pane HTML, CSS and JavaScript playground",
	Long: `panes edits markup, style and script side by side and renders them
together in a sandboxed preview, with console output and script errors
reported back next to the code.

Quick Start:
  panes serve               Open the playground in the browser
  panes run ./project       Run a project headlessly and print its console
  panes compose ./project   Print the composed preview document
  panes export ./project    Write the export files

A project directory holds index.html, style.css and script.js.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is "+config.FileName+", can also use PANES_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

// normalizeFlagName accepts the config file spelling of a flag, so
// --log_level works like --log-level.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// initConfig points viper at the configuration file and the environment.
func initConfig() {
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("PANES_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv("PANES_CONFIG_FILE"))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(config.FileName, filepath.Ext(config.FileName)))
	}

	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) && viper.ConfigFileUsed() != "" {
			fmt.Fprintln(os.Stderr, "Warning: failed to read config file:", err)
		}
	}
}

// loadConfig resolves the configuration, attaching suggestions on failure.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = config.FileName
		}
		return nil, errors.NewEnhancedError("Failed to load configuration", err, errors.ConfigurationError(err, path))
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config, out io.Writer) logging.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: out,
	})
}
