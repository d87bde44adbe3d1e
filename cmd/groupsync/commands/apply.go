package commands

import (
	"context"
	"fmt"
	"log/slog"

	"groupsync/services/executor"
	"groupsync/services/history"
	"groupsync/services/plan"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	applyDryRun    bool
	applySkipPrice bool
	applyNoReport  bool
)

func init() {
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Log the operations without performing them.")
	applyCmd.Flags().BoolVar(&applySkipPrice, "skip-price", false, "Keep the existing prices of updated listings.")
	applyCmd.Flags().BoolVar(&applyNoReport, "no-report", false, "Do not email a report of the run.")
	rootCmd.AddCommand(applyCmd)
}

func renderResults(results []executor.Result) {
	t := newTable()
	t.AppendHeader(table.Row{"Status", "Mode", "ID", "Title", "Price", "New ID", "Error"})
	for _, r := range results {
		if r.Status == executor.StatusSkipped {
			continue
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Status, r.Mode, r.ProductID, r.Draft.Title, r.Draft.Price, r.NewProductID, errText})
	}
	t.Render()
}

var applyCmd = &cobra.Command{
	Use:   "apply <plan file>",
	Short: "Applies the operations in a plan file.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		file, err := plan.Load(args[0])
		if err != nil {
			fatal("read plan", err)
		}
		if file.PoiID == "" {
			fatal("read plan", fmt.Errorf("plan has no store directive"))
		}

		config := app.Config.Executor
		config.DryRun = config.DryRun || applyDryRun
		config.SkipPriceUpdate = config.SkipPriceUpdate || applySkipPrice

		exec, err := app.Executor(config)
		if err != nil {
			fatal("init executor", err)
		}
		hist, err := app.History()
		if err != nil {
			fatal("open history", err)
		}

		runId, err := hist.StartRun(ctx, history.RunInfo{
			Store:  file.Store,
			PoiID:  file.PoiID,
			Engine: "plan",
			DryRun: config.DryRun,
		})
		if err != nil {
			fatal("start run", err)
		}
		slog.Info("applying plan", "run_id", runId, "store", file.Store, "operations", len(file.Operations), "dry_run", config.DryRun)

		report := exec.Run(ctx, runId, file.PoiID, file.Operations)

		// the run is finished even when the context was cancelled midway
		err = hist.FinishRun(context.WithoutCancel(ctx), runId, report)
		if err != nil {
			slog.Warn("failed to finish run", "run_id", runId, "err", err)
		}

		renderResults(report.Results)
		fmt.Printf("success %d, failed %d, skipped %d (run %s)\n", report.Success, report.Failed, report.Skipped, runId)

		if !applyNoReport && !config.DryRun && app.Config.Report.Enabled() {
			subject := fmt.Sprintf("groupsync: %s 成功 %d 失败 %d", file.Store, report.Success, report.Failed)
			err = executor.SendReport(ctx, app.Config.Report, subject, report)
			if err != nil {
				slog.Warn("failed to send report", "err", err)
			}
		}
	},
}
