package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lhdbsbz/analystdesk/internal/config"
)

var (
	version    = "0.1.0"
	configPath string // overridable via --config flag
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:   "analystdesk",
		Short: "AnalystDesk: streaming research chat client",
		Long:  "AnalystDesk talks to a research workflow backend over SSE or WebSocket and assembles the streamed answers.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(debug)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: $ANALYSTDESK_HOME/config.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(previewCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig resolves and loads the config, falling back to the built-in
// defaults when no file exists yet. The result becomes the current config.
func loadConfig() (*config.Config, string, error) {
	path := config.ResolveConfigPath(configPath)
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, path, err
	}
	config.Set(cfg)
	return cfg, path, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("analystdesk v%s\n", version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the example config to the config path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolveConfigPath(configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.CreateFromExample(path); err != nil {
				return err
			}
			slog.Info("config written", "path", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")

	cmd.AddCommand(initCmd)
	return cmd
}
