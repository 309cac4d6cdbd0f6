package peer

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
)

// Client is the outbound side of the transport.
type Client interface {
	Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error)
	Heartbeat(ctx context.Context, ep transport.Endpoint, timeout time.Duration) bool
	SetAvailable(available bool)
	Available() bool
}

// Listener is the inbound side of the transport.
type Listener interface {
	Listen(ep transport.Endpoint) error
	Serve(ctx context.Context, handler transport.InboundHandler) error
}

// Spawner starts a background delivery that outlives the caller and returns
// its process id.
type Spawner interface {
	Spawn(ctx context.Context, req DeferredRequest) (int, error)
}

// Recorder keeps track of deliveries handed to a background process.
type Recorder interface {
	RecordDeferred(ctx context.Context, ep transport.Endpoint, path, identity string) (string, error)
	SetPID(ctx context.Context, id string, pid int) error
	SetStatus(ctx context.Context, id string, status db.DeliveryStatus, attempts int, lastErr string) error
}

// UpdateHandler is told when a synchronous send is about to start. It is
// called exactly once per synchronous send, on the caller's goroutine, and
// never for deferred deliveries.
type UpdateHandler interface {
	OnSendStart(ep transport.Endpoint, path string)
}

type UpdateFunc func(ep transport.Endpoint, path string)

func (f UpdateFunc) OnSendStart(ep transport.Endpoint, path string) { f(ep, path) }

var (
	_ Client   = (*transport.Client)(nil)
	_ Listener = (*transport.Server)(nil)
)
