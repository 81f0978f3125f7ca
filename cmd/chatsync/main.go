package main

import (
	"os"

	"ChatSync/global/config"
	"ChatSync/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Terminal client for the chat backend",
	Long: `chatsync keeps a conversation in sync with the chat backend over a push
socket, falling back to polling when push is unavailable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		config.Global = c
		logger.SetLevel(c.Log.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); CHATSYNC_* env overrides it")
	rootCmd.AddCommand(chatCmd, watchCmd, loginCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
