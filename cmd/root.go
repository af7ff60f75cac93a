// Package cmd provides the command-line interface for assetstage.
//
// Configuration System:
//
//	Settings are read from several sources, highest priority first:
//	1. Command-line flags (--config, --port, ...)
//	2. ASSETSTAGE_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (ASSETSTAGE_SERVER_PORT, ...)
//	4. Configuration file (.assetstage.yml)
//
// A .env file in the working directory is loaded before any of these, so
// its variables take part in step 3.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/assetstage/internal/config"
	"github.com/conneroisu/assetstage/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "assetstage",
	Short: "A staged build pipeline for static web assets",
	Long: `assetstage turns a source tree of styles, scripts, markup and graphics
into a deployable website in three stages, each writing its own directory:

  build      assemble sources and library bundles into build/step1-staging
  minify     minify staged bundles into build/step2-minified
  revision   content-hash file names into build/step3-production

Quick Start:
  assetstage init        Write a default .assetstage.yml
  assetstage release     Run all three stages
  assetstage watch       Rebuild on change and preview with live reload
  assetstage publish     Copy the production tree to the deploy folder`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .assetstage.yml, can also use ASSETSTAGE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("no-color", rootCmd.PersistentFlags().Lookup("no-color"))
}

// initConfig wires the configuration sources into viper.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Warning: could not load .env:", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("ASSETSTAGE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".assetstage")
	}

	// ASSETSTAGE_SERVER_PORT overrides server.port, and so on.
	viper.SetEnvPrefix("ASSETSTAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// A missing or unreadable file leaves the built-in defaults in place.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from --log-level and --log-format.
func newLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	format := viper.GetString("log-format")
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unsupported log format %q (supported: text, json)", format)
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    format,
		Output:    os.Stderr,
		Component: "assetstage",
	}), nil
}

// setup loads the configuration and the logger every command needs.
func setup() (*config.Config, logging.Logger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logger, nil
}
