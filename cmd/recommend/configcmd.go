package main

import (
	"os"

	"github.com/agentuity/go-recommend/sys"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup(cmd, false)
		buf, err := cfg.YAML()
		if err != nil {
			sys.Exit("%s", err)
		}
		os.Stdout.Write(buf)
		if err := cfg.Validate(); err != nil {
			log.Warn("%s", err)
		}
	},
}
