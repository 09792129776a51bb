package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/steer/pkg/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve steer tools over stdio as an MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openGateway(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			opts := mcp.Options{
				Router:      a.engine,
				Constraints: a.integration,
				Budgets:     a.registry,
				Status:      a.tracker,
				Breakers:    a.breakers,
				Version:     version,
				Logger:      a.logger,
			}
			// Disabled components stay untyped nil.
			if a.cache != nil {
				opts.Cache = a.cache
			}
			if a.audit != nil {
				opts.Audit = a.audit
			}
			return mcp.New(opts).Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
