package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/wppcal/internal/api"
)

func markCmd() *cobra.Command {
	var (
		inScope  bool
		priority int
		company  string
		category string
	)
	cmd := &cobra.Command{
		Use:   "mark <chat_id>",
		Short: "Put a chat in or out of scope, set its priority and tags",
		Long: `Only the flags given change. A chat may be marked before the gateway
reports it; company and category need a known chat.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &api.MarkRequest{
				ChatID:   strings.TrimSpace(args[0]),
				Company:  company,
				Category: category,
			}
			if cmd.Flags().Changed("in-scope") {
				req.InScope = &inScope
			}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}

			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := shortContext()
			defer cancel()

			resp, err := c.Mark(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().BoolVar(&inScope, "in-scope", true, "whether the chat is synced")
	cmd.Flags().IntVar(&priority, "priority", 5, "priority 1..10")
	cmd.Flags().StringVar(&company, "company", "", "company tag")
	cmd.Flags().StringVar(&category, "category", "", "category tag")
	return cmd
}

func chatsCmd() *cobra.Command {
	var inScopeOnly bool
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List known chats with their selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := shortContext()
			defer cancel()

			resp, err := c.Chats(ctx, &api.ChatsRequest{InScopeOnly: inScopeOnly})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().BoolVar(&inScopeOnly, "in-scope", false, "only chats in scope")
	return cmd
}

func refreshChatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-chats",
		Short: "Pull the chat list from the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := shortContext()
			defer cancel()

			resp, err := c.RefreshChats(ctx)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}
