package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	dealsCity string
	dealsName string
)

func init() {
	dealsCmd.Flags().StringVar(&dealsCity, "city", "", "City of the store, skips the store directory lookup.")
	dealsCmd.Flags().StringVar(&dealsName, "name", "", "Name of the store on meituan, skips the store directory lookup.")
	rootCmd.AddCommand(dealsCmd)
}

var dealsCmd = &cobra.Command{
	Use:   "deals [store]",
	Short: "Scrape the meituan deals of a store.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		city, name := dealsCity, dealsName
		if city == "" || name == "" {
			if len(args) == 0 {
				fatal("find store", fmt.Errorf("either a store or both --city and --name are required"))
			}
			store, err := app.FindStore(ctx, args[0])
			if err != nil {
				fatal("find store", err)
			}
			city, name = store.City, store.Name
		}

		client, err := app.Meituan()
		if err != nil {
			fatal("init meituan", err)
		}
		shop, deals, err := client.Deals(ctx, city, name)
		if err != nil {
			fatal("scrape deals", err)
		}

		fmt.Printf("%s (%s)\n", shop.Name, shop.ID)
		t := newTable()
		t.AppendHeader(table.Row{"#", "Title", "Price", "Original"})
		for i, d := range deals {
			t.AppendRow(table.Row{i, d.Title, d.Price, d.OriginalPrice})
		}
		t.Render()
	},
}
