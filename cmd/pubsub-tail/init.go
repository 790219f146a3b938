package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pubsub/internal/config"
	"github.com/vango-dev/pubsub/internal/errors"
)

func initCmd() *cobra.Command {
	var (
		dir   string
		url   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write pubsub-tail.toml with default settings.

Examples:
  pubsub-tail init
  pubsub-tail init --url wss://example.com/connection/websocket
  pubsub-tail init --dir /etc/pubsub-tail --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := writeDefaultConfig(dir, url, force)
			if err != nil {
				return err
			}
			success("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write the config into")
	cmd.Flags().StringVar(&url, "url", "", "Endpoint URL to put in the config")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")

	return cmd
}

func writeDefaultConfig(dir, url string, force bool) (string, error) {
	path := filepath.Join(dir, config.ConfigFileName)
	if _, err := os.Stat(path); err == nil && !force {
		return "", errors.Newf(errors.CategoryCLI, "%s already exists", path).
			WithSuggestion("Pass --force to overwrite it")
	}

	cfg := config.New()
	cfg.URL = url
	cfg.Channels = []string{}
	if err := cfg.SaveTo(path); err != nil {
		return "", err
	}
	return path, nil
}
