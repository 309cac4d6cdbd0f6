package cli

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping host port",
	Short: "check whether a peer is online",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := transport.ParseEndpoint(args[0], args[1])
		if err != nil {
			return err
		}

		p, err := peer.New(peer.Options{
			Identity: cfg.Name,
			Client:   newClient(),
			Retry:    retryPolicy(),
			Logger:   log,
		})
		if err != nil {
			return err
		}

		if !p.IsAlive(cmd.Context(), ep, retryPolicy()) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is unreachable\n", ep)
			return errUnreachable
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is alive\n", ep)
		return nil
	},
}
