package commands

import (
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func fatal(message string, err error) {
	slog.Error(message, "err", err)
	os.Exit(1)
}
