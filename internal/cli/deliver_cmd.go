package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/deferred"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/spawn"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/spf13/cobra"
)

var (
	deliverBackground bool
	deliverID         string
)

var deliverCmd = &cobra.Command{
	Use:    spawn.DeliverCommand + " host port file",
	Short:  "deliver a file once the peer comes online",
	Long:   `polls the peer until it answers and then sends the file. Started by send when the peer is offline.`,
	Hidden: true,
	Args:   cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if deliverBackground {
			log.SetOutput(cmd.OutOrStdout())
			log.SetFormatter(&logger.PrettyFormatter{NoColor: true})
		}

		ep, err := transport.ParseEndpoint(args[0], args[1])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		var tracker deferred.Tracker
		if deliverID != "" {
			gdb, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			deliveries := store.NewDeliveryStore(gdb)
			if err := deliveries.SetPID(ctx, deliverID, os.Getpid()); err != nil {
				return err
			}
			tracker = deliveries
		}

		d, err := deferred.New(deferred.Options{
			Request: peer.DeferredRequest{
				ID:       deliverID,
				Endpoint: ep,
				Path:     args[2],
				Identity: cfg.Name,
			},
			Client:  newClient(),
			Policy:  pollPolicy(),
			Tracker: tracker,
			Logger:  log,
		})
		if err != nil {
			return err
		}

		err = d.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	deliverCmd.Flags().BoolVar(&deliverBackground, "background", false, "running detached, log without colours")
	deliverCmd.Flags().StringVar(&deliverID, "delivery-id", "", "delivery record to update")
}
