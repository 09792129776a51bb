package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/steer/pkg/cache"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the semantic cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd.Context(), *configPath, func(c *cache.SemanticCache) error {
				stats, err := c.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Entries: %d\nHits:    %d\nMisses:  %d\n", stats.Entries, stats.Hits, stats.Misses)
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cache entry under the configured prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd.Context(), *configPath, func(c *cache.SemanticCache) error {
				if err := c.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("All cache entries cleared.")
				return nil
			})
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func withCache(ctx context.Context, configPath string, fn func(c *cache.SemanticCache) error) error {
	cfg, logger, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() { _ = a.Close() }()

	c, err := buildCache(ctx, a)
	if err != nil {
		return err
	}
	if c == nil {
		fmt.Println("Cache is disabled.")
		return nil
	}
	return fn(c)
}
