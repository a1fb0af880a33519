package cli

import (
	"fmt"

	"github.com/ashureev/whiteboard-tutor/internal/identity"
	"github.com/spf13/cobra"
)

func newSessionIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-id",
		Short: "Print a fresh session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), identity.NewSessionID())
			return err
		},
	}
}
