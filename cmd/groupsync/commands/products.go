package commands

import (
	"log/slog"

	"groupsync/lib/platforms/douyin"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	productsAll     bool
	productsDetails bool
)

func init() {
	productsCmd.Flags().BoolVar(&productsAll, "all", false, "Include listings hidden from customers.")
	productsCmd.Flags().BoolVar(&productsDetails, "details", false, "Fetch each listing's area, purchase limit and validity.")
	rootCmd.AddCommand(productsCmd)
}

var productsCmd = &cobra.Command{
	Use:   "products <poi id>",
	Short: "List the online douyin listings of a store.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		products, err := app.LiveProducts(ctx, args[0], productsAll)
		if err != nil {
			fatal("list products", err)
		}

		t := newTable()
		if !productsDetails {
			t.AppendHeader(table.Row{"ID", "Name", "Price", "Origin"})
			for _, p := range products {
				t.AppendRow(table.Row{p.ID, p.Name, p.Price, p.OriginPrice})
			}
			t.Render()
			return
		}

		client, err := app.Douyin()
		if err != nil {
			fatal("init douyin", err)
		}
		t.AppendHeader(table.Row{"ID", "Name", "Price", "Origin", "Area", "Limit", "Validity"})
		for _, p := range products {
			info := douyin.Info{Area: "?", Limit: "?", Validity: "?"}
			detail, err := client.Get(ctx, p.ID)
			if err == nil {
				info, err = douyin.ParseDetails(detail)
			}
			if err != nil {
				slog.Warn("failed to read product details", "product_id", p.ID, "err", err)
			}
			t.AppendRow(table.Row{p.ID, p.Name, p.Price, p.OriginPrice, info.Area, info.Limit, info.Validity})
		}
		t.Render()
	},
}
