package commands

import (
	"log/slog"

	"groupsync/lib/xlsx"
	"groupsync/services/instruct"
	"groupsync/services/plan"

	"github.com/spf13/cobra"
)

var (
	sheetOut       string
	sheetStore     string
	sheetThreshold float64
)

func init() {
	sheetCmd.Flags().StringVarP(&sheetOut, "out", "o", "", "Write the plan to this file instead of stdout.")
	sheetCmd.Flags().StringVar(&sheetStore, "store", "", "Store name written into the plan.")
	sheetCmd.Flags().Float64Var(&sheetThreshold, "threshold", instruct.DefaultSheetThreshold, "Minimum title similarity when matching without an llm.")
	rootCmd.AddCommand(sheetCmd)
}

var sheetCmd = &cobra.Command{
	Use:   "sheet <poi id> <file.xlsx>",
	Short: "Match a store's listings to spreadsheet rows and write a plan updating them.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		poiId, path := args[0], args[1]

		rows, err := xlsx.LoadRows(path)
		if err != nil {
			fatal("read spreadsheet", err)
		}
		online, err := app.LiveProducts(ctx, poiId, false)
		if err != nil {
			fatal("list products", err)
		}
		// without a provider the sheet is matched by title similarity
		provider, err := app.Provider(ctx)
		if err != nil {
			fatal("init llm", err)
		}

		matches := instruct.MatchSheet(ctx, provider, online, rows, sheetThreshold)
		slog.Info("matched spreadsheet", "rows", len(rows), "listings", len(online), "matches", len(matches))

		writePlan(sheetOut, plan.File{
			Store:      sheetStore,
			PoiID:      poiId,
			Operations: sheetOperations(matches),
		})
	},
}
