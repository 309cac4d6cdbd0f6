package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var errUnreachable = errors.New("peer unreachable")

// deliveryLog remembers the id of the last delivery it recorded.
type deliveryLog struct {
	*store.DeliveryStore
	lastID string
}

func (d *deliveryLog) RecordDeferred(ctx context.Context, ep transport.Endpoint, path, identity string) (string, error) {
	id, err := d.DeliveryStore.RecordDeferred(ctx, ep, path, identity)
	if err == nil {
		d.lastID = id
	}
	return id, err
}

var sendCmd = &cobra.Command{
	Use:   "send host port file",
	Short: "send a file to a peer",
	Long: `sends a file to the peer at host:port. If the peer does not answer,
a background process keeps trying and delivers the file once it is back.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := transport.ParseEndpoint(args[0], args[1])
		if err != nil {
			return err
		}

		gdb, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close(gdb)
		deliveries := &deliveryLog{DeliveryStore: store.NewDeliveryStore(gdb)}

		spawner, err := newSpawner()
		if err != nil {
			return err
		}

		client := newClient()
		client.SetConfirmHandler(transport.ConfirmFunc(func(info transport.TransferInfo) {
			log.WithFields(logrus.Fields{
				"peer": info.RemoteAddr,
				"size": humanize.IBytes(uint64(info.Size)),
			}).Info("Receiver confirmed the file")
		}))

		p, err := peer.New(peer.Options{
			Identity: cfg.Name,
			Client:   client,
			Spawner:  spawner,
			Recorder: deliveries,
			Retry:    retryPolicy(),
			Logger:   log,
		})
		if err != nil {
			return err
		}

		outcome, err := p.SendFile(cmd.Context(), ep, args[2], peer.UpdateFunc(func(ep transport.Endpoint, path string) {
			log.Infof("Sending %s to %s", peer.ExtractFileName(path), ep)
		}))
		if err != nil {
			return err
		}

		switch outcome {
		case peer.OutcomeDeferred:
			fmt.Fprintf(cmd.OutOrStdout(), "deferred (%s)\n", deliveries.lastID)
		default:
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
		}
		return nil
	},
}
