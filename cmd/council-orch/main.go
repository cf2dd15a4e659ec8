package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "council-orch",
		Short: "Council Orchestrator - multi-agent change review pipeline",
		Long: `Council Orchestrator runs a panel of AI agents against code-change tasks.
Each task gets a sandboxed working tree; the agents do the work, vote on the
result, and an approved change is published as a pull request.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
