package commands

import (
	"errors"
	"fmt"

	"groupsync/services/instruct"
	"groupsync/services/plan"

	"github.com/spf13/cobra"
)

var (
	analyzeOut   string
	analyzeStore string
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "Write the plan to this file instead of stdout.")
	analyzeCmd.Flags().StringVar(&analyzeStore, "store", "", "Store name written into the plan.")
	rootCmd.AddCommand(analyzeCmd)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <poi id> <instruction>",
	Short: "Turn a natural-language instruction into a plan for a store's listings.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		poiId, text := args[0], args[1]

		err := instruct.ValidatePOI(poiId)
		if err != nil {
			fatal("parse args", err)
		}
		provider, err := app.Provider(ctx)
		if err != nil {
			fatal("init llm", err)
		}
		if provider == nil {
			fatal("init llm", errors.New("analyze needs an llm provider, set llm.provider in the config"))
		}

		online, err := app.LiveProducts(ctx, poiId, false)
		if err != nil {
			fatal("list products", err)
		}
		actions, err := instruct.Analyze(ctx, provider, text, online)
		if err != nil {
			fatal("analyze instruction", err)
		}
		if actions.Empty() {
			fmt.Println("the instruction did not produce any changes")
			return
		}

		writePlan(analyzeOut, plan.File{
			Store:      analyzeStore,
			PoiID:      poiId,
			Operations: analyzeOperations(actions),
		})
	},
}
