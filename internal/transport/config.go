package transport

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultIdleTimeout = 30 * time.Second
)

type ClientConfig struct {
	Identity    string
	DialTimeout time.Duration
	Logger      *logrus.Logger
}

// AvailabilityReporter exposes the local availability flag, normally the
// outbound Client.
type AvailabilityReporter interface {
	Available() bool
}

type ServerConfig struct {
	Identity    string
	DownloadDir string
	// MaxTransfers caps concurrent inbound transfers; zero means no cap.
	MaxTransfers int
	// Availability, when set and reporting false, limits inbound transfers
	// to one at a time regardless of MaxTransfers.
	Availability AvailabilityReporter
	IdleTimeout  time.Duration
	Receipts     ReceiptRecorder
	Logger       *logrus.Logger
}
