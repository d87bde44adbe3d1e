package commands

import (
	"context"
	"fmt"
	"os"

	"groupsync/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var app *App

var rootCmd = &cobra.Command{
	Use:   "groupsync",
	Short: "groupsync keeps Douyin group-buy listings in sync with Meituan deals.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)
		if cmd.Name() == "help" {
			return nil
		}
		if verbose {
			err := dumpHttp()
			if err != nil {
				return fmt.Errorf("http dumps: %w", err)
			}
		}

		config, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		app = &App{Config: config}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.Close()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file, searched upwards for groupsync.json5 by default.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging and http dumps.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
