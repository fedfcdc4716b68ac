package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gitpilot",
	Short: "Gitpilot - automated code-edit task orchestration",
	Long: `Gitpilot coordinates automated single-file code edits against GitHub
repositories: submit a task, review its plan, approve, run the isolated
worker, push the work branch and open the pull request.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr   string
	principal string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&principal, "principal", "", "Acting principal (default: server-side default)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(authCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
