package commands

import (
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the llm response cache.",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached llm response.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cache, err := app.Cache()
		if err != nil {
			fatal("open cache", err)
		}
		err = cache.Clear(cmd.Context())
		if err != nil {
			fatal("clear cache", err)
		}
		slog.Info("cleared llm cache")
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached llm responses.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cache, err := app.Cache()
		if err != nil {
			fatal("open cache", err)
		}
		stats, err := cache.Stats(cmd.Context())
		if err != nil {
			fatal("read cache stats", err)
		}
		t := newTable()
		t.AppendHeader(table.Row{"Persistent", "TTL"})
		t.AppendRow(table.Row{stats.Persistent, app.Config.LLM.CacheTTL()})
		t.Render()
	},
}
