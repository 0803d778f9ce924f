package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-gis/geoquery/cmd/geoquery/ui"
	"github.com/meridian-gis/geoquery/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the compile cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache configuration and entry count",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		ui.Section("Cache")
		ui.Info("  Enabled: %t", cfg.Cache.Enabled)
		if !cfg.Cache.Enabled {
			return nil
		}
		ui.Info("  Driver:  %s", cfg.Cache.Driver)
		ui.Info("  TTL:     %s", cfg.Cache.TTL)
		switch c := a.Cache.(type) {
		case *cache.MemoryClient:
			ui.Info("  Entries: %d (max %d)", c.Len(), cfg.Cache.MaxEntries)
		default:
			ui.Info("  Redis:   %s (db %d)", cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all cached compilations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Cache == nil {
			ui.Warn("Cache is disabled")
			return nil
		}
		if err := a.Cache.Clear(ctx); err != nil {
			return err
		}
		ui.Success("Cache cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
