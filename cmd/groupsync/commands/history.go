package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"groupsync/services/history"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list.")
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

var historyCmd = &cobra.Command{
	Use:   "history [run id]",
	Short: "List past runs, or the operations of one run.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		store, err := app.History()
		if err != nil {
			fatal("open history", err)
		}

		if len(args) == 0 {
			runs, err := store.ListRuns(ctx, historyLimit)
			if err != nil {
				fatal("list runs", err)
			}
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Store", "Engine", "Started", "Finished", "Success", "Failed", "Skipped", "Dry run"})
			for _, r := range runs {
				t.AppendRow(table.Row{
					r.ID, r.Store, r.Engine,
					formatTime(r.StartedAt), formatTime(r.FinishedAt),
					r.Success, r.Failed, r.Skipped, r.DryRun,
				})
			}
			t.Render()
			return
		}

		run, err := store.GetRun(ctx, args[0])
		if errors.Is(err, history.ErrRunNotFound) {
			fatal("get run", fmt.Errorf("no run with id %q", args[0]))
		}
		if err != nil {
			fatal("get run", err)
		}
		ops, err := store.RunOperations(ctx, run.ID)
		if err != nil {
			fatal("list operations", err)
		}

		fmt.Printf("%s %s (%s) started %s\n", run.ID, run.Store, run.PoiID, formatTime(run.StartedAt))
		t := newTable()
		t.AppendHeader(table.Row{"Time", "Status", "Mode", "ID", "Title", "Price", "Origin", "New ID", "Error"})
		for _, op := range ops {
			t.AppendRow(table.Row{
				formatTime(op.CreatedAt), op.Status, op.Mode, op.ProductID, op.Title,
				op.Price, op.OriginPrice, op.NewProductID, op.Error,
			})
		}
		t.Render()
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune <days>",
	Short: "Delete runs older than the given number of days.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		days, err := strconv.Atoi(args[0])
		if err != nil || days < 0 {
			fatal("parse args", fmt.Errorf("invalid number of days %q", args[0]))
		}
		store, err := app.History()
		if err != nil {
			fatal("open history", err)
		}
		before := time.Now().AddDate(0, 0, -days)
		err = store.Prune(cmd.Context(), before)
		if err != nil {
			fatal("prune history", err)
		}
		slog.Info("pruned history", "before", before.Format(time.DateOnly))
	},
}
