package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medfatnasii277/portalbell/internal/app"
	"github.com/medfatnasii277/portalbell/internal/logger"
	"github.com/medfatnasii277/portalbell/internal/model"
)

func newTailCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Log notification changes without the TUI",
		Long:  `Connect, load and follow notifications, logging the unread count and the newest title on every change until interrupted.`,
		RunE:  runTail,
	}
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.User.Username == "" {
		return errors.New("no user configured, set user.username in the config file")
	}

	cfg.Log.Output = "stderr"
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	log := logger.WithComponent("tail")

	session, err := app.NewSession(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changes, unsubscribe := session.Engine.Store().Subscribe()
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-session.States:
				log.Info("connection", "state", s.String())
			}
		}
	}()

	if err := session.Engine.Initialize(ctx, session.Identity); err != nil {
		log.Error("initial load failed", "error", err)
	}
	session.Poller.Start()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping")
			return nil

		case _, ok := <-changes:
			if !ok {
				return nil
			}
			snap := session.Engine.Store().Snapshot()
			newest := ""
			if len(snap.Records) > 0 {
				newest = snap.Records[0].Title
			}
			log.Info("notifications changed",
				"total", len(snap.Records),
				"unread", snap.UnreadCount,
				"newest", newest,
			)

		case res := <-session.Poller.Results():
			switch {
			case res.AuthError != nil:
				log.Error("refresh rejected", "reason", res.AuthError.Message)
			case res.Error != nil:
				log.Warn("refresh failed", "error", res.Error)
			}
		}
	}
}

