package main

import (
	"github.com/spf13/cobra"
)

var watchConversations []int64

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print notifications, and optionally messages of some conversations, until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, r, ctx, stop, err := startSession(cmd)
		if err != nil {
			return err
		}
		defer stop()
		defer sess.Stop()

		for _, id := range watchConversations {
			if _, err := sess.Open(id); err != nil {
				return err
			}
		}
		st, _ := sess.State()
		r.printf("watching as %s (%s); Ctrl-C to stop", cfg.UserID, st)
		<-ctx.Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().Int64SliceVarP(&watchConversations, "conversation", "c", nil, "conversation ids to follow")
}
