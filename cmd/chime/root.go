package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chime",
	Short: "chime - timers, alarms and deferred actions for a voice assistant",
	Long: `chime schedules countdown timers, alarm clocks and deferred agent
actions, and fires them through a home-automation hub.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cronCmd)
}
