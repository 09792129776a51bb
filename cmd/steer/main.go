package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "steer",
		Short:         "steer: budget-aware AI request gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to steer config file (defaults apply when omitted)")

	root.AddCommand(
		newServeCmd(&configPath),
		newBudgetCmd(&configPath),
		newCacheCmd(&configPath),
		newRulesCmd(&configPath),
		newAuditCmd(&configPath),
		newMCPCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
