package main

import (
	"github.com/spf13/cobra"

	"github.com/matheus3301/wppcal/internal/api"
)

func deleteEventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-event <marker>",
		Short: "Delete a created event and keep it from coming back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := shortContext()
			defer cancel()

			resp, err := c.DeleteEvent(ctx, &api.DeleteEventRequest{Marker: args[0]})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func forgetTombstonesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget-tombstones [chat_id]",
		Short: "Restore deleted events and allow them to be synced again",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &api.ForgetTombstonesRequest{}
			if len(args) == 1 {
				req.ChatID = args[0]
			}
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := shortContext()
			defer cancel()

			resp, err := c.ForgetTombstones(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}
