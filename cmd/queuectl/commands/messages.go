package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cloudqueues-driver/internal/app/driver"
)

// NewCountCmd creates the count command
func NewCountCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "count <queue>",
		Short: "Print the number of messages in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open(cmd.Context())
			if err != nil {
				return err
			}
			n, err := d.CountMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

// NewPushCmd creates the push command
func NewPushCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "push <queue> <body|->",
		Short: "Push a message, reading the body from stdin when it is -",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := args[1]
			if body == "-" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				body = strings.TrimRight(string(raw), "\n")
			}

			d, err := open(cmd.Context())
			if err != nil {
				return err
			}
			if err := d.PushMessage(cmd.Context(), args[0], body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed message to %s\n", args[0])
			return nil
		},
	}
}

// NewPopCmd creates the pop command
func NewPopCmd(open Opener) *cobra.Command {
	var (
		wait time.Duration
		ack  bool
	)

	cmd := &cobra.Command{
		Use:   "pop <queue>",
		Short: "Claim one message and print it",
		Long:  "Claim one message and print its body and receipt. Without --ack the claim expires and the message becomes available again.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open(cmd.Context())
			if err != nil {
				return err
			}
			body, receipt, err := d.PopMessage(cmd.Context(), args[0], wait)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if receipt == "" {
				fmt.Fprintln(out, "No message available")
				return nil
			}
			fmt.Fprintln(out, body)
			fmt.Fprintf(cmd.ErrOrStderr(), "receipt: %s\n", receipt)

			if ack {
				if err := d.AcknowledgeMessage(cmd.Context(), args[0], receipt); err != nil {
					return fmt.Errorf("failed to acknowledge message: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to poll an empty queue")
	cmd.Flags().BoolVar(&ack, "ack", false, "delete the message after printing it")
	return cmd
}

// NewPeekCmd creates the peek command
func NewPeekCmd(open Opener) *cobra.Command {
	var index, limit int

	cmd := &cobra.Command{
		Use:   "peek <queue>",
		Short: "Print messages without claiming them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open(cmd.Context())
			if err != nil {
				return err
			}
			bodies, err := d.PeekQueue(cmd.Context(), args[0], index, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range bodies {
				fmt.Fprintln(out, b)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "position of the first message")
	cmd.Flags().IntVar(&limit, "limit", driver.DefaultPeekLimit, "maximum number of messages")
	return cmd
}
