// Package cli wires the peer-drop commands together.
package cli

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peer-drop/internal/config"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/deferred"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/spawn"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	configPath string
	nameFlag   string
	levelFlag  string

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:  "peer-drop",
	Long: `peer-drop sends files straight to another peer. If the peer is offline, a background process keeps trying until it comes back.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to the config file")
	rootCmd.PersistentFlags().StringVar(&nameFlag, "name", "", "identity announced to other peers (default from config)")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(deliverCmd)
	rootCmd.AddCommand(deliveriesCmd)
	rootCmd.AddCommand(receivedCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if nameFlag != "" {
		loaded.Name = nameFlag
	}
	if levelFlag != "" {
		loaded.LogLevel = levelFlag
	}

	level, err := logger.ParseLevel(loaded.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	cfg = loaded
	log = logger.New(cmd.ErrOrStderr(), level, false)
	return nil
}

func openDB() (*gorm.DB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return db.Open(cfg.DBPath())
}

func newClient() *transport.Client {
	return transport.NewClient(transport.ClientConfig{
		Identity: cfg.Name,
		Logger:   log,
	})
}

func newSpawner() (*spawn.Spawner, error) {
	opts := spawn.Options{
		LogDir: cfg.LogDir(),
		Logger: log,
	}
	if rootCmd.PersistentFlags().Changed("config") {
		opts.ConfigPath = configPath
	}
	return spawn.New(opts)
}

func retryPolicy() peer.RetryPolicy {
	return peer.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Timeout:     cfg.Retry.Timeout,
	}
}

func pollPolicy() deferred.PollPolicy {
	return deferred.PollPolicy{
		Interval:     cfg.Background.PollInterval,
		ProbeTimeout: cfg.Background.ProbeTimeout,
		MaxLifetime:  cfg.Background.MaxLifetime,
	}
}
