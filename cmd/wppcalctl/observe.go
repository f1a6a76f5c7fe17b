package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/wppcal/internal/api"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store totals and daemon state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := shortContext()
			defer cancel()

			resp, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func logsCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print daemon log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := shortContext()
			defer cancel()

			resp, err := c.Logs(ctx, &api.LogsRequest{Since: since})
			if err != nil {
				return err
			}
			return printJSON(resp.Entries)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only entries newer than this duration, e.g. 2h")
	return cmd
}

func watchCmd() *cobra.Command {
	var prefixes []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := signalContext()
			defer cancel()

			err = c.Watch(ctx, &api.WatchRequest{Prefixes: prefixes}, func(e *api.Envelope) error {
				return printJSON(e)
			})
			if errors.Is(err, context.Canceled) || grpcstatus.Code(err) == codes.Canceled {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&prefixes, "kind", nil, "event kind prefixes, e.g. sync.,calendar.")
	return cmd
}
