package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cloudqueues-driver/cmd/queuectl/commands"
	"cloudqueues-driver/internal/pkg/logger"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and operate message queues",
		Long:          "CLI tool for listing, feeding and draining queues through the prefetching driver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	open := commands.OpenFromEnv
	rootCmd.AddCommand(commands.NewListCmd(open))
	rootCmd.AddCommand(commands.NewCreateCmd(open))
	rootCmd.AddCommand(commands.NewRemoveCmd(open))
	rootCmd.AddCommand(commands.NewCountCmd(open))
	rootCmd.AddCommand(commands.NewPushCmd(open))
	rootCmd.AddCommand(commands.NewPopCmd(open))
	rootCmd.AddCommand(commands.NewPeekCmd(open))
	rootCmd.AddCommand(commands.NewInfoCmd(open))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
