package main

import (
	"fmt"
	"os"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configFile string
	debug      bool

	// core is built before every subcommand and closed after it.
	core *app.App
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Ingest documents and chat with them from the terminal",
	Long: `ragctl drives the same stores, index and models as the API server.
Configuration comes from RAGCHAT_* environment variables, an optional .env
file and an optional YAML file.`,
	SilenceUsage:       true,
	PersistentPreRunE:  openCore,
	PersistentPostRunE: closeCore,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides RAGCHAT_CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func openCore(cmd *cobra.Command, _ []string) error {
	// A failed command skips the post-run hook.
	_ = closeCore(cmd, nil)
	_ = godotenv.Load(".env")
	if configFile != "" {
		if err := os.Setenv("RAGCHAT_CONFIG_FILE", configFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Debug = cfg.Debug || debug

	// Without --debug the CLI keeps its output to command results.
	logger := logging.OrNop(nil)
	if cfg.Debug {
		if logger, err = logging.New(true); err != nil {
			return err
		}
	}
	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	core = a
	return nil
}

func closeCore(_ *cobra.Command, _ []string) error {
	if core != nil {
		core.Close()
		core = nil
	}
	return nil
}
