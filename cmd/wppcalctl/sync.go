package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matheus3301/wppcal/internal/api"
)

func syncChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-chat <chat_id> <from> <to>",
		Short: "Sync one chat over a window of local days (YYYY-MM-DD, to inclusive)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			sigs, stop := notifyInterrupt()
			defer stop()

			var resp *api.SyncChatResponse
			err = interruptible(c, sigs, func(ctx context.Context) (err error) {
				resp, err = c.SyncChat(ctx, &api.SyncChatRequest{ChatID: args[0], From: args[1], To: args[2]})
				return err
			})
			if err != nil {
				return err
			}
			return withExit(resp, resp.ExitCode)
		},
	}
}

func syncAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all <from> <to>",
		Short: "Sync every in-scope chat over a window of local days",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			sigs, stop := notifyInterrupt()
			defer stop()

			var resp *api.SyncAllResponse
			err = interruptible(c, sigs, func(ctx context.Context) (err error) {
				resp, err = c.SyncAll(ctx, &api.SyncAllRequest{From: args[0], To: args[1]})
				return err
			})
			if err != nil {
				return err
			}
			return withExit(resp, resp.ExitCode)
		},
	}
}

func weeklyRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weekly-run",
		Short: "Run the weekly job now and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			sigs, stop := notifyInterrupt()
			defer stop()

			var resp *api.WeeklyRunResponse
			err = interruptible(c, sigs, func(ctx context.Context) (err error) {
				resp, err = c.WeeklyRun(ctx)
				return err
			})
			if err != nil {
				return err
			}
			return withExit(resp, resp.ExitCode)
		},
	}
}
