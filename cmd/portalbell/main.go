package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/medfatnasii277/portalbell/internal/app"
	"github.com/medfatnasii277/portalbell/internal/logger"
	"github.com/medfatnasii277/portalbell/internal/model"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "portalbell",
		Short: "Portal notifications in the terminal",
		Long: `portalbell keeps a live view of your portal notifications. It subscribes
to the STOMP push feed, resyncs over REST, and shows an unread badge and
a notification panel.`,
		SilenceUsage: true,
		RunE:         runTUI,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", model.DefaultConfigPath(), "Path to config file")

	rootCmd.AddCommand(
		newTailCommand(),
		newTokenCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// The terminal belongs to the TUI, so logs never go to stdout/stderr.
	if cfg.Log.Output == "" || cfg.Log.Output == "stdout" || cfg.Log.Output == "stderr" {
		cfg.Log.Output = defaultLogFile()
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Close()

	session, err := app.NewSession(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	p := tea.NewProgram(app.New(session), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

func defaultLogFile() string {
	return filepath.Join(model.ConfigDir(), "portalbell.log")
}
