package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matheus3301/wppcal/internal/calendar"
	"github.com/matheus3301/wppcal/internal/config"
	"github.com/matheus3301/wppcal/internal/profile"
)

func initCmd() *cobra.Command {
	var (
		calendarID string
		instanceID string
		token      string
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.toml for the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := profileName()
			if err != nil {
				return err
			}
			path := profile.ConfigPath(name)
			if _, err := os.Stat(path); err == nil && !force {
				return &exitError{code: exitConfig, err: fmt.Errorf("%s already exists (use --force to overwrite)", path)}
			}
			if err := profile.EnsureDir(name); err != nil {
				return err
			}
			cfg := config.Default()
			cfg.Calendar.TargetCalendarID = calendarID
			cfg.Chat.InstanceID = instanceID
			cfg.Chat.Token = token
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "wrote %s\n", path)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "still missing before wppcald can start: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&calendarID, "calendar", "", "target calendar id")
	cmd.Flags().StringVar(&instanceID, "instance", "", "chat gateway instance id")
	cmd.Flags().StringVar(&token, "token", "", "chat gateway API token")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func useProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Set the default profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := profile.ValidateName(args[0]); err != nil {
				return &exitError{code: exitConfig, err: err}
			}
			g, err := config.LoadGlobal(profile.GlobalConfigPath())
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				g = &config.Global{}
			}
			g.DefaultProfile = args[0]
			return config.SaveGlobal(profile.GlobalConfigPath(), g)
		},
	}
}

// calendarAuthCmd runs the installed-app OAuth flow once and stores the
// token where wppcald reads it. It does not need the daemon.
func calendarAuthCmd() *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "calendar-auth",
		Short: "Authorize access to the target calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := profileName()
			if err != nil {
				return err
			}
			cfg, err := config.Load(profile.ConfigPath(name))
			if err != nil {
				return &exitError{code: exitConfig, err: err}
			}
			credsFile := cfg.Calendar.CredentialsFile
			if credsFile == "" {
				credsFile = profile.CalendarCredentialsPath(name)
			}
			tokenFile := cfg.Calendar.TokenFile
			if tokenFile == "" {
				tokenFile = profile.CalendarTokenPath(name)
			}
			conf, err := calendar.LoadOAuthConfig(credsFile)
			if err != nil {
				return &exitError{code: exitConfig, err: err}
			}

			if code == "" {
				fmt.Fprintf(os.Stderr, "Open this URL, approve access and paste the code:\n\n%s\n\ncode: ",
					calendar.AuthURL(conf, uuid.NewString()))
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return &exitError{code: exitConfig, err: fmt.Errorf("read code: %w", err)}
				}
				code = strings.TrimSpace(line)
			}
			ctx, cancel := shortContext()
			defer cancel()
			if _, err := calendar.Exchange(ctx, conf, code, tokenFile); err != nil {
				return &exitError{code: exitConfig, err: err}
			}
			fmt.Fprintf(os.Stderr, "token saved to %s\n", tokenFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "authorization code (prompted when empty)")
	return cmd
}
