package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrRejected        = errors.New("transfer rejected by receiver")
)

// Endpoint is a host/port pair, either a remote peer to dial or a local bind
// address.
type Endpoint struct {
	Host string
	Port int
}

func ParseEndpoint(host, port string) (Endpoint, error) {
	p, err := strconv.Atoi(port)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %q is not a number", ErrInvalidEndpoint, port)
	}
	ep := Endpoint{Host: host, Port: p}
	return ep, ep.Validate()
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Conn is an established connection to a remote peer.
type Conn interface {
	SendFile(ctx context.Context, data []byte, name string) error
	RemoteAddr() string
	Close() error
}

// TransferInfo describes a single file transfer as seen by either side.
type TransferInfo struct {
	Name       string
	Size       int64
	Sender     string
	RemoteAddr string
}

// InboundHandler receives events for inbound transfers. Both methods are
// called from the goroutine serving the connection. OnTransferStart is called
// once per transfer, before any OnProgress call for it.
type InboundHandler interface {
	OnTransferStart(info TransferInfo)
	OnProgress(info TransferInfo, received int64)
}

// InboundFuncs adapts plain functions to InboundHandler. Nil fields are
// no-ops.
type InboundFuncs struct {
	Start    func(info TransferInfo)
	Progress func(info TransferInfo, received int64)
}

func (f InboundFuncs) OnTransferStart(info TransferInfo) {
	if f.Start != nil {
		f.Start(info)
	}
}

func (f InboundFuncs) OnProgress(info TransferInfo, received int64) {
	if f.Progress != nil {
		f.Progress(info, received)
	}
}

// ConfirmHandler is invoked at most once per transfer, after the receiver
// acknowledged it.
type ConfirmHandler interface {
	OnConfirm(info TransferInfo)
}

type ConfirmFunc func(info TransferInfo)

func (f ConfirmFunc) OnConfirm(info TransferInfo) { f(info) }

// ReceiptRecorder persists completed inbound transfers.
type ReceiptRecorder interface {
	RecordReceipt(ctx context.Context, info TransferInfo, storedPath string) error
}
