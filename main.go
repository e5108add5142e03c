package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(logger).ExecuteContext(ctx); err != nil {
		stop()
		logger.Fatalf("%v", err)
	}
}

func newRootCommand(logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "moodmon",
		Short:         "Workspace mood monitoring pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(logger),
		newWorkerCommand(logger),
		newEdgeCommand(logger),
		newDeadLettersCommand(logger),
		newQueueCommand(logger),
		newMigrateCommand(logger),
		newTokenCommand(),
	)
	return root
}
