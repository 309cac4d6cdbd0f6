package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/spf13/cobra"
)

var receivedCmd = &cobra.Command{
	Use:   "received",
	Short: "list files received by the listener",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		receipts, err := store.NewReceiptStore(gdb).List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tFROM\tSIZE\tRECEIVED\tPATH")
		for _, r := range receipts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.FileName,
				r.Sender,
				humanize.IBytes(uint64(r.Size)),
				humanize.Time(r.ReceivedAt),
				r.StoredPath,
			)
		}
		return w.Flush()
	},
}
