package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/stagehand/internal/logging"
)

// addServerFlags adds the development server flags to cmd.
func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 3000, "Port to serve on")
	cmd.Flags().String("host", "localhost", "Host to bind to")
	cmd.Flags().Bool("compress", true, "Brotli-compress text responses (--compress=false to disable)")
	AddFlagValidation(cmd.Flags(), "port", ValidatePort)
	mustBind(cmd.Flags(), map[string]string{
		"port":     "server.port",
		"host":     "server.host",
		"compress": "server.compress",
	})
}

// mustBind binds flags to viper configuration keys. A missing flag is a
// programming error.
func mustBind(flags *pflag.FlagSet, bindings map[string]string) {
	for flagName, configKey := range bindings {
		flag := flags.Lookup(flagName)
		if flag == nil {
			panic(fmt.Sprintf("no flag %q to bind to %q", flagName, configKey))
		}
		if err := viper.BindPFlag(configKey, flag); err != nil {
			panic(err)
		}
	}
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(flags *pflag.FlagSet, flagName string, validator func(string) error) {
	flag := flags.Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0 (any free port) through 65535.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

func ValidateLogLevel(level string) error {
	_, err := logging.ParseLevel(level)
	return err
}

func ValidateLogFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("log format must be text or json, got %q", format)
	}
}
