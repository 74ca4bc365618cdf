package main

import (
	"os"

	"github.com/spf13/cobra"

	fitclip "fitclip"
	"fitclip/internal/config"
)

const defaultConfigPath = "fitclip.yaml"

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "fitclip",
		Short:         "Compress videos to a target file size",
		Version:       fitclip.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(&configFlag))
	rootCmd.AddCommand(newCheckCommand(&configFlag))
	rootCmd.AddCommand(newPlanCommand(&configFlag))

	return rootCmd
}

// loadConfig resolves the config path from the flag, the FITCLIP_CONFIG
// environment variable, or the default, and loads it. A missing file is
// not an error; defaults apply.
func loadConfig(configFlag string) (*config.Config, string, error) {
	path := configFlag
	if path == "" {
		if envPath := os.Getenv("FITCLIP_CONFIG"); envPath != "" {
			path = envPath
		} else {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
