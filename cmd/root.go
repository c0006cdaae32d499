// Package cmd provides the devloop command-line interface.
//
// Configuration resolves from three sources with clear precedence:
//  1. Command-line flags (--port, --host, etc.) - highest priority
//  2. Environment variables with a DEVLOOP_ prefix (DEVLOOP_SERVER_PORT, ...)
//  3. The project manifest (.devloop.yml) - lowest priority
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devloop-dev/devloop/internal/config"
	"github.com/devloop-dev/devloop/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "devloop",
	Short: "A zero-ceremony dev server for bundled web projects",
	Long: `Devloop watches your sources, rebuilds through your bundler, and tells
connected browsers what actually changed: stylesheet edits swap CSS in
place, code edits reload the page.

Quick Start:
  devloop serve                 Start the development loop
  devloop build                 One-shot production build
  devloop config                Print the effective configuration

Project settings live in ` + config.ManifestName + ` next to your sources.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.ManifestName+")")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	cobra.CheckErr(readConfigFile())
}

// readConfigFile resolves which settings file applies and reads it. A
// missing default manifest is fine, defaults cover a conventional layout;
// a manifest that exists but cannot be read or parsed is a startup failure.
func readConfigFile() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("DEVLOOP_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(config.ManifestName, ".yml"))
	}

	viper.SetEnvPrefix("DEVLOOP")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	err := viper.ReadInConfig()
	if err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		return nil
	}
	if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
		return nil
	}
	return fmt.Errorf("reading settings file: %w", err)
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}
