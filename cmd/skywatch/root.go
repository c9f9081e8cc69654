package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/skywatch/internal/config"
	"github.com/signalsfoundry/skywatch/internal/logging"
)

// newRootCmd builds the command tree around a fresh viper instance so that
// tests can execute commands without sharing global state.
func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "skywatch",
		Short:         "Observer-relative aircraft, satellite and moon tracking",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Root().PersistentFlags(), map[string]string{
				"config":     "config",
				"log.level":  "log-level",
				"log.format": "log-format",
			})
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")

	root.AddCommand(newServeCmd(v), newMoonCmd(v), newConvertCmd(v))
	return root
}

// observerFlagKeys maps observer config keys to their flag names.
var observerFlagKeys = map[string]string{
	"observer.latitude":  "lat",
	"observer.longitude": "lon",
	"observer.altitude":  "alt",
	"observer.date":      "date",
}

func addObserverFlags(flags *pflag.FlagSet) {
	flags.Float64("lat", 0, "Observer latitude in degrees")
	flags.Float64("lon", 0, "Observer longitude in degrees")
	flags.Float64("alt", 0, "Observer altitude in metres")
	flags.String("date", "", "Pin observations to this date (YYYY-MM-DD or RFC 3339)")
}

// bindFlags binds each key to the named flag. Binding happens when a command
// runs so sibling commands sharing a key do not overwrite each other.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag --%s", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// loadConfig resolves the configuration and a logger writing to w.
func loadConfig(v *viper.Viper, w io.Writer) (config.Config, logging.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, nil, err
	}
	logCfg := cfg.Logging()
	logCfg.Output = w
	return cfg, logging.New(logCfg), nil
}
