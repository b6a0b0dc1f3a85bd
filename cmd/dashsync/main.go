// Package main is the entry point for the dashsync CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alsoamit/manager-dash-sub001/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dashsync",
		Short:        "Live field-sales dashboard over a push connection",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", config.DefaultPath(), "path to config file")

	root.AddCommand(
		watchCmd(),
		serveCmd(),
		dateCmd(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
