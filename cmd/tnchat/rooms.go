package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRoomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List rooms and their participant counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			client, _, err := authenticate(cmd.Context(), &cfg, logger)
			if err != nil {
				return err
			}
			rooms, err := client.Rooms(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROOM\tNAME\tTYPE\tUSERS")
			for _, r := range rooms {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.RoomID, r.RoomName, r.RoomType, r.UserCount)
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		before int64
	)

	cmd := &cobra.Command{
		Use:   "history [room]",
		Short: "Print stored messages of a room",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			room := cfg.DefaultRoom
			if len(args) == 1 {
				room = args[0]
			}

			client, _, err := authenticate(cmd.Context(), &cfg, logger)
			if err != nil {
				return err
			}
			messages, err := client.History(cmd.Context(), room, limit, before)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range messages {
				stamp := ""
				if m.Timestamp != nil {
					stamp = m.Timestamp.Local().Format(time.DateTime)
				}
				fmt.Fprintf(out, "#%d %s %s: %s\n", m.ID, stamp, m.Sender, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "number of messages")
	cmd.Flags().Int64Var(&before, "before", 0, "only messages older than this id")
	return cmd
}
