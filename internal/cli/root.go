// Package cli implements the bookmark-importer commands.
package cli

import (
	"os"

	"github.com/Sternrassler/bookmark-importer/internal/config"
	"github.com/Sternrassler/bookmark-importer/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "bookmark-importer",
	Short:         "Resumable importer for X bookmarks",
	Long:          "Imports the bookmarks timeline page by page into Redis, backing off on rate limits and resuming from the last cursor.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		logging.Setup(logging.Config{
			Level:  logging.LogLevel(cfg.Log.Level),
			Pretty: cfg.Log.Pretty,
			Output: os.Stderr,
		})
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML, JSON or TOML); BOOKMARKS_* env vars override it")
}
