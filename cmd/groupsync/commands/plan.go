package commands

import (
	"fmt"
	"log/slog"

	"groupsync/lib/xlsx"
	"groupsync/services/plan"
	"groupsync/services/reconcile"

	"github.com/spf13/cobra"
)

var (
	planEngine string
	planOut    string
	planXlsx   string
)

func init() {
	planCmd.Flags().StringVar(&planEngine, "engine", "", "Matching engine to use, 'llm' or 'heuristic'. Defaults to the configured engine.")
	planCmd.Flags().StringVarP(&planOut, "out", "o", "", "Write the plan to this file instead of stdout.")
	planCmd.Flags().StringVar(&planXlsx, "xlsx", "", "Also write a spreadsheet report of the reconciliation.")
	rootCmd.AddCommand(planCmd)
}

// writePlan saves the plan to path, or prints it when path is empty.
func writePlan(path string, file plan.File) {
	if path == "" {
		fmt.Print(file.String())
		return
	}
	err := plan.Save(path, file)
	if err != nil {
		fatal("save plan", err)
	}
	slog.Info("wrote plan", "path", path, "operations", len(file.Operations))
}

var planCmd = &cobra.Command{
	Use:   "plan <store>",
	Short: "Reconcile a store's douyin listings with its meituan deals and write a plan file.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		switch planEngine {
		case "", reconcile.EngineLLM, reconcile.EngineHeuristic:
		default:
			fatal("parse flags", fmt.Errorf("unknown engine %q", planEngine))
		}

		store, err := app.FindStore(ctx, args[0])
		if err != nil {
			fatal("find store", err)
		}
		if store.POIID == "" {
			fatal("find store", fmt.Errorf("store %q has no poi id", store.Name))
		}

		products, err := app.LiveProducts(ctx, store.POIID, false)
		if err != nil {
			fatal("list products", err)
		}
		client, err := app.Meituan()
		if err != nil {
			fatal("init meituan", err)
		}
		_, deals, err := client.Deals(ctx, store.City, store.Name)
		if err != nil {
			fatal("scrape deals", err)
		}

		engine, err := app.Engine(ctx, planEngine)
		if err != nil {
			fatal("init engine", err)
		}
		result := engine.Reconcile(ctx, reconcile.OwnFromProducts(products), reconcile.ReferencesFromDeals(deals))

		summary := result.Summary()
		slog.Info("reconciled",
			"store", store.Name,
			"engine", result.Engine,
			"keep", summary.Keep,
			"update", summary.Update,
			"create", summary.Create,
			"retire", summary.Retire,
			"untouched", summary.Untouched,
		)

		if planXlsx != "" {
			err = xlsx.WritePlan(planXlsx, planRows(store.Name, result))
			if err != nil {
				fatal("write spreadsheet", err)
			}
		}
		writePlan(planOut, plan.File{
			Store:      store.Name,
			PoiID:      store.POIID,
			Operations: result.Operations(),
		})
	},
}
