package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"groupsync/cmd/groupsync/commands"
	"groupsync/lib/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	t, err := telemetry.SetupFromEnv(ctx, "groupsync")
	if err != nil {
		slog.Warn("failed to setup telemetry", "err", err)
	}
	defer t.Shutdown(context.Background())

	commands.ExecuteContext(ctx)
}
