package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(storesCmd)
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List the stores in the feishu store directory.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := app.Feishu()
		if err != nil {
			fatal("init feishu", err)
		}
		stores, err := client.ListStores(cmd.Context())
		if err != nil {
			fatal("list stores", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Name", "POI ID", "City"})
		for _, s := range stores {
			t.AppendRow(table.Row{s.Name, s.POIID, s.City})
		}
		t.Render()
	},
}
