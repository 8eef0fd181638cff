package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "statebot",
	Short: "statebot routes chat commands to stateful bot plugins",
	Long: `statebot is a command-routing core for chat-bot plugins. It connects to
IM platforms (Telegram, Discord, Feishu, DingTalk), keeps a state per
conversation and dispatches every message to the plugin triggers reachable
from that state.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statesCmd)
	rootCmd.AddCommand(versionCmd)
}
