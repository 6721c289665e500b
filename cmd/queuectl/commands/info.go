package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// NewInfoCmd creates the info command
func NewInfoCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the driver configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d.Info())
		},
	}
}
