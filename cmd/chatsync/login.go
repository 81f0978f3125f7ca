package main

import (
	"context"
	"fmt"
	"time"

	"ChatSync/service/api"

	"github.com/hako/durafmt"
	"github.com/spf13/cobra"
)

var (
	loginUser     string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange credentials for a bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pull.RequestTimeout)
		defer cancel()
		res, err := api.New(cfg).Login(ctx, loginUser, loginPassword)
		if err != nil {
			return err
		}
		ttl := time.Until(time.Unix(res.ExpireAt, 0)).Truncate(time.Minute)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "logged in as %s, token valid for %s\n", res.UserID, durafmt.Parse(ttl).LimitFirstN(2))
		fmt.Fprintf(out, "export CHATSYNC_TOKEN=%s\n", res.Token)
		fmt.Fprintf(out, "export CHATSYNC_USER_ID=%s\n", res.UserID)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "user", "u", "", "username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password")
	_ = loginCmd.MarkFlagRequired("user")
	_ = loginCmd.MarkFlagRequired("password")
}
