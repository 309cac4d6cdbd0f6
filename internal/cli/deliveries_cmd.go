package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/spawn"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/spf13/cobra"
)

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "list background deliveries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		list, err := store.NewDeliveryStore(gdb).List(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no deliveries")
			return nil
		}
		return writeDeliveries(cmd.OutOrStdout(), list)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "restart unfinished deliveries whose process is gone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		spawner, err := newSpawner()
		if err != nil {
			return err
		}

		n, err := resumeDeliveries(cmd.Context(), store.NewDeliveryStore(gdb), spawner, spawn.Alive)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "resumed %d %s\n", n, plural(n, "delivery", "deliveries"))
		return nil
	},
}

func init() {
	deliveriesCmd.AddCommand(resumeCmd)
}

func writeDeliveries(out io.Writer, list []db.Delivery) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPEER\tFILE\tATTEMPTS\tUPDATED")
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(d.ID),
			d.Status,
			transport.Endpoint{Host: d.Host, Port: d.Port},
			peer.ExtractFileName(d.Path),
			d.Attempts,
			humanize.Time(d.UpdatedAt),
		)
	}
	return w.Flush()
}

// resumeDeliveries respawns every unfinished delivery whose process is no
// longer alive and returns how many were restarted.
func resumeDeliveries(ctx context.Context, deliveries store.DeliveryRepository, spawner peer.Spawner, alive func(int) bool) (int, error) {
	pending, err := deliveries.Unfinished(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, d := range pending {
		if alive(d.PID) {
			log.Debugf("Delivery %s still running as %d", shortID(d.ID), d.PID)
			continue
		}

		pid, err := spawner.Spawn(ctx, peer.DeferredRequest{
			ID:       d.ID,
			Endpoint: transport.Endpoint{Host: d.Host, Port: d.Port},
			Path:     d.Path,
			Identity: d.Identity,
		})
		if err != nil {
			log.Warnf("Failed to resume delivery %s: %v", shortID(d.ID), err)
			continue
		}
		if err := deliveries.SetPID(ctx, d.ID, pid); err != nil {
			return resumed, err
		}
		resumed++
	}
	return resumed, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
