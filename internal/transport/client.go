package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Client dials remote peers. It is safe for concurrent use; each Dial
// returns an independent connection.
type Client struct {
	identity    string
	codec       *protocol.Codec
	dialTimeout time.Duration
	logger      *logrus.Logger

	available atomic.Bool

	mu      sync.RWMutex
	confirm ConfirmHandler
}

var _ AvailabilityReporter = (*Client)(nil)

func NewClient(cfg ClientConfig) *Client {
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	c := &Client{
		identity:    cfg.Identity,
		codec:       protocol.NewCodec(),
		dialTimeout: dialTimeout,
		logger:      log,
	}
	c.available.Store(true)
	return c
}

// SetAvailable records whether the last probed peer answered.
func (c *Client) SetAvailable(available bool) {
	c.available.Store(available)
}

func (c *Client) Available() bool {
	return c.available.Load()
}

func (c *Client) SetConfirmHandler(h ConfirmHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirm = h
}

func (c *Client) confirmHandler() ConfirmHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confirm
}

func (c *Client) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", ep, err)
	}

	c.logger.WithField("peer", ep.String()).Debug("Connected to peer")
	return &tcpConn{conn: conn, client: c}, nil
}

// Heartbeat performs exactly one liveness probe and reports whether the peer
// answered within timeout.
func (c *Client) Heartbeat(ctx context.Context, ep Endpoint, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		c.logger.WithField("peer", ep.String()).Debugf("Heartbeat dial failed: %v", err)
		return false
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := c.codec.Encode(conn, protocol.Heartbeat()); err != nil {
		c.logger.WithField("peer", ep.String()).Debugf("Heartbeat send failed: %v", err)
		return false
	}

	reply, err := c.codec.Decode(conn)
	if err != nil {
		c.logger.WithField("peer", ep.String()).Debugf("Heartbeat reply failed: %v", err)
		return false
	}

	return reply.Type == protocol.MsgHeartbeat
}

type tcpConn struct {
	conn   net.Conn
	client *Client
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// SendFile streams data as a header, a run of data frames and a terminator,
// then waits for the receiver's FIN.
func (c *tcpConn) SendFile(ctx context.Context, data []byte, name string) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	codec := c.client.codec
	log := c.client.logger.WithFields(logrus.Fields{
		"peer": c.RemoteAddr(),
		"file": name,
	})

	if err := codec.Encode(c.conn, protocol.Header(name, uint64(len(data)), c.client.identity)); err != nil {
		return c.wrap(ctx, "sending header", err)
	}

	for off := 0; off < len(data); off += protocol.ChunkSize {
		end := min(off+protocol.ChunkSize, len(data))
		if err := codec.Encode(c.conn, protocol.Data(data[off:end])); err != nil {
			return c.wrap(ctx, "sending data", err)
		}
	}

	if err := codec.Encode(c.conn, protocol.DataEnd()); err != nil {
		return c.wrap(ctx, "sending terminator", err)
	}

	reply, err := codec.Decode(c.conn)
	if err != nil {
		return c.wrap(ctx, "waiting for confirmation", err)
	}

	switch reply.Type {
	case protocol.MsgFin:
	case protocol.MsgError:
		return fmt.Errorf("%w: %s: %s", ErrRejected, reply.Code, reply.Name)
	default:
		return fmt.Errorf("unexpected reply %s", reply.Type)
	}

	log.Infof("Sent %s", humanize.Bytes(uint64(len(data))))

	if h := c.client.confirmHandler(); h != nil {
		h.OnConfirm(TransferInfo{
			Name:       name,
			Size:       int64(len(data)),
			Sender:     c.client.identity,
			RemoteAddr: c.RemoteAddr(),
		})
	}
	return nil
}

func (c *tcpConn) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
