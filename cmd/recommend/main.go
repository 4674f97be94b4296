package main

import (
	"os"

	"github.com/agentuity/go-recommend/config"
	"github.com/agentuity/go-recommend/env"
	"github.com/agentuity/go-recommend/logger"
	"github.com/agentuity/go-recommend/sys"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "recommend",
	Short:        "Music recommendations from free text",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (env RECOMMEND_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error (env RECOMMEND_LOG_LEVEL)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "write logs as JSON")
	rootCmd.PersistentFlags().String("env-file", ".env", "file of KEY=value lines loaded into the environment if present")
	rootCmd.AddCommand(askCmd, replCmd, configCmd)
}

// setup loads the env file and configuration and returns a logger.
// Credentials are only checked when validate is set.
func setup(cmd *cobra.Command, validate bool) (*config.Config, logger.Logger) {
	log := env.NewLogger(cmd)
	if path, _ := cmd.Flags().GetString("env-file"); path != "" {
		if _, err := os.Stat(path); err == nil {
			n, err := env.LoadEnvFile(path)
			if err != nil {
				sys.Exit("error loading %s: %s", path, err)
			}
			log.Debug("loaded %d variables from %s", n, path)
		}
	}
	path := env.FlagOrEnv(cmd, "config", "RECOMMEND_CONFIG", "")
	load := config.Read
	if validate {
		load = config.Load
	}
	cfg, err := load(path)
	if err != nil {
		sys.Exit("configuration error: %s", err)
	}
	return cfg, log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
