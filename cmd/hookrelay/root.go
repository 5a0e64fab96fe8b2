package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	envFile  string
	logLevel string

	cfg Config
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "hookrelay",
	Short: "Receive webhooks through a relay channel",
	Long: "hookrelay connects a long-lived event stream to a relay channel and turns\n" +
		"every relayed webhook into a structured message, optionally forwarding it\n" +
		"to a local HTTP target.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadDotEnv(envFile); err != nil {
			return err
		}

		if err := loadConfigFile(cmd); err != nil {
			return err
		}

		level := logLevel
		if level == "" {
			level = cfg.LogLevel
		}
		if level == "" {
			level = "info"
		}

		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}

		log.SetLevel(parsed)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "hookrelay.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to .env file (ignored if missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(newCmd, clientCmd, serveCmd, tapCmd)
}

// loadDotEnv loads environment variables from a .env file. A missing file is
// fine; any other read failure is not.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// loadConfigFile loads the config file when it exists. A missing file is only
// an error when --config was given explicitly.
func loadConfigFile(cmd *cobra.Command) error {
	if _, err := os.Stat(cfgPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("check config file: %w", err)
		}
		if cmd.Root().PersistentFlags().Changed("config") {
			return fmt.Errorf("config file %s does not exist", cfgPath)
		}
		return nil
	}

	loaded, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
