package commands

import (
	"log/slog"

	"groupsync/services/watch"

	"github.com/spf13/cobra"
)

var (
	watchOnce      bool
	watchAutoApply bool
)

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Sync every store once and exit.")
	watchCmd.Flags().BoolVar(&watchAutoApply, "auto-apply", false, "Apply the update and retire operations of each plan.")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically reconcile every store and save the pending plans.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := app.Config.Watch
		config.AutoApply = config.AutoApply || watchAutoApply

		stores, err := app.Feishu()
		if err != nil {
			fatal("init feishu", err)
		}
		listings, err := app.Douyin()
		if err != nil {
			fatal("init douyin", err)
		}
		deals, err := app.Meituan()
		if err != nil {
			fatal("init meituan", err)
		}
		engine, err := app.Engine(ctx, "")
		if err != nil {
			fatal("init engine", err)
		}

		hist, err := app.History()
		if err != nil {
			fatal("open history", err)
		}

		deps := watch.Deps{
			Stores:   stores,
			Listings: listings,
			Deals:    deals,
			Engine:   engine,
			History:  hist,
		}
		if config.AutoApply {
			exec, err := app.Executor(app.Config.Executor)
			if err != nil {
				fatal("init executor", err)
			}
			deps.Runner = exec
		}

		daemon := watch.New(deps, config)
		if watchOnce {
			err = daemon.RunOnce(ctx)
			if err != nil {
				fatal("sync stores", err)
			}
			return
		}

		slog.Info("watching stores", "interval_minutes", config.WithDefaults().IntervalMinutes, "auto_apply", config.AutoApply)
		err = daemon.Run(ctx)
		if err != nil {
			fatal("watch", err)
		}
	},
}
