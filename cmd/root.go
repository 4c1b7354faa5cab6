// Package cmd wires the CLI surface: serve, migrate, and version.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tasktalk",
	Short: "TaskTalk - conversational todo list service",
	Long: `TaskTalk is a stateless HTTP service that manages per-user todo
lists through natural-language conversation. A language model turns
user messages into structured tool calls; PostgreSQL holds all state.

Run "tasktalk serve" to start the API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
