// Package cmd provides the command-line interface for stagehand.
//
// Configuration is read from, highest priority first:
//
//  1. Command-line flags (--port, --log-level, ...)
//  2. STAGEHAND_<SECTION>_<OPTION> environment variables
//  3. The file named by --config or STAGEHAND_CONFIG_FILE
//  4. .stagehand.yml in the current directory
//
// Running stagehand without a subcommand cleans the output tree, builds every
// task, then serves the output with live reload while watching the sources.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/stagehand/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Static site asset pipeline with live reload",
	Long: `stagehand builds a static site from a source tree: it renders page
templates, compiles stylesheets, bundles scripts, optimises images, assembles
an SVG sprite and copies fonts, all tasks running in parallel.

Without a subcommand it cleans the output tree, builds everything, then serves
the result with live reload and rebuilds whatever you change.

Examples:
  stagehand                       Build, serve and watch
  stagehand build                 One-shot build
  stagehand build --task styles   Rebuild only the stylesheets
  stagehand clean                 Remove the output tree
  stagehand config                Print the resolved configuration`,
	SilenceUsage: true,
	RunE:         runDev,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .stagehand.yml, can also use STAGEHAND_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	AddFlagValidation(rootCmd.PersistentFlags(), "log-level", ValidateLogLevel)
	AddFlagValidation(rootCmd.PersistentFlags(), "log-format", ValidateLogFormat)
	mustBind(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})

	addServerFlags(rootCmd)

	rootCmd.AddCommand(buildCmd, cleanCmd, configCmd, versionCmd)
}

// initConfig selects the configuration file and enables environment
// overrides. A missing file is not an error; defaults apply.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".stagehand")
	}

	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Cannot read config file %s: %v\n", cfgFile, err)
	}
}
