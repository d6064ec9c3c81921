package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/medfatnasii277/portalbell/internal/credential"
	"github.com/medfatnasii277/portalbell/internal/model"
)

var username string

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the API token stored in the keyring",
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Prompt for the Bearer token and store it",
		RunE:  runTokenSet,
	}
	setCmd.Flags().StringVarP(&username, "username", "u", "", "User the token belongs to (saved to the config file)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token",
		RunE:  runTokenClear,
	}

	cmd.AddCommand(setCmd, clearCmd)
	return cmd
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if username != "" && username != cfg.User.Username {
		cfg.User.Username = username
		if err := model.SaveConfig(configPath, cfg); err != nil {
			return err
		}
	}
	if cfg.User.Username == "" {
		return errors.New("no user configured, pass --username")
	}

	var token string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API Token").
				Description(fmt.Sprintf("Bearer token for %s", cfg.User.Username)).
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}

	if err := credential.SetToken(cfg.User.Username, strings.TrimSpace(token)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token stored for %s\n", cfg.User.Username)
	return nil
}

func runTokenClear(cmd *cobra.Command, args []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.User.Username == "" {
		return errors.New("no user configured")
	}

	if err := credential.DeleteToken(cfg.User.Username); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token removed for %s\n", cfg.User.Username)
	return nil
}
