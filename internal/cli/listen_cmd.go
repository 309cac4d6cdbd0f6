package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	listenAddress string
	listenPort    int
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "receive files from other peers",
	Long:  `listens for incoming files and stores them in the download directory until interrupted`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ep := transport.Endpoint{Host: cfg.Listen.Address, Port: cfg.Listen.Port}
		if cmd.Flags().Changed("address") {
			ep.Host = listenAddress
		}
		if cmd.Flags().Changed("port") {
			ep.Port = listenPort
		}

		gdb, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		client := newClient()
		server := transport.NewServer(transport.ServerConfig{
			Identity:     cfg.Name,
			DownloadDir:  cfg.DownloadDir,
			MaxTransfers: cfg.MaxTransfers,
			Availability: client,
			Receipts:     store.NewReceiptStore(gdb),
			Logger:       log,
		})
		defer server.Close()

		p, err := peer.New(peer.Options{
			Identity: cfg.Name,
			Client:   client,
			Server:   server,
			Retry:    retryPolicy(),
			Logger:   log,
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := p.Listen(ctx, ep, newProgressHandler(cmd.ErrOrStderr())); err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"address":  server.Addr(),
			"name":     p.Identity(),
			"download": cfg.DownloadDir,
		}).Info("Listening for files")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
		case <-ctx.Done():
		}
		log.Info("Shutting down listener")
		return nil
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenAddress, "address", "", "address to bind (default from config)")
	listenCmd.Flags().IntVar(&listenPort, "port", 0, "port to bind (default from config)")
}
