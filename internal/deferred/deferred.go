// Package deferred runs a single background delivery: it polls an
// unreachable peer until it answers, then sends the file exactly once.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

var ErrLifetimeExceeded = errors.New("delivery lifetime exceeded")

const (
	DefaultInterval     = 5 * time.Second
	DefaultProbeTimeout = 2 * time.Second
)

type State int

const (
	StatePolling State = iota
	StateConnecting
	StateSending
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateConnecting:
		return "connecting"
	case StateSending:
		return "sending"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func (s State) status() db.DeliveryStatus {
	switch s {
	case StatePolling:
		return db.StatusPolling
	case StateConnecting:
		return db.StatusConnecting
	case StateSending:
		return db.StatusSending
	default:
		return db.StatusDelivered
	}
}

// PollPolicy controls how often an unreachable peer is probed. A zero
// MaxLifetime polls forever.
type PollPolicy struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	MaxLifetime  time.Duration
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: DefaultInterval, ProbeTimeout: DefaultProbeTimeout}
}

func (p PollPolicy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("poll interval %s must be positive", p.Interval)
	}
	if p.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout %s must be positive", p.ProbeTimeout)
	}
	if p.MaxLifetime < 0 {
		return fmt.Errorf("max lifetime %s must not be negative", p.MaxLifetime)
	}
	return nil
}

type Client interface {
	Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error)
	Heartbeat(ctx context.Context, ep transport.Endpoint, timeout time.Duration) bool
}

// Tracker is told about every state change of the delivery.
type Tracker interface {
	SetStatus(ctx context.Context, id string, status db.DeliveryStatus, attempts int, lastErr string) error
}

type Options struct {
	Request peer.DeferredRequest
	Client  Client
	Policy  PollPolicy
	Tracker Tracker
	// Confirm is called once the receiver acknowledged the file. Nil logs
	// the acknowledgement.
	Confirm transport.ConfirmHandler
	Logger  *logrus.Logger
}

type Delivery struct {
	req     peer.DeferredRequest
	client  Client
	policy  PollPolicy
	tracker Tracker
	confirm transport.ConfirmHandler
	logger  *logrus.Entry

	state    State
	attempts int
	probes   int
}

func New(opts Options) (*Delivery, error) {
	if opts.Client == nil {
		return nil, errors.New("deferred: client is required")
	}
	if err := opts.Request.Endpoint.Validate(); err != nil {
		return nil, err
	}

	policy := opts.Policy
	if policy == (PollPolicy{}) {
		policy = DefaultPollPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	entry := log.WithFields(logrus.Fields{
		"peer": opts.Request.Endpoint.String(),
		"file": peer.ExtractFileName(opts.Request.Path),
	})
	if opts.Request.ID != "" {
		entry = entry.WithField("delivery", opts.Request.ID)
	}

	d := &Delivery{
		req:     opts.Request,
		client:  opts.Client,
		policy:  policy,
		tracker: opts.Tracker,
		confirm: opts.Confirm,
		logger:  entry,
		state:   StatePolling,
	}
	if d.confirm == nil {
		d.confirm = transport.ConfirmFunc(d.logConfirm)
	}
	return d, nil
}

func (d *Delivery) State() State {
	return d.state
}

// Probes is the number of liveness probes sent so far.
func (d *Delivery) Probes() int {
	return d.probes
}

// Run drives the delivery to completion. It returns nil once the file was
// acknowledged, ctx.Err() if cancelled, ErrLifetimeExceeded if the policy's
// lifetime ran out, or an ErrFileAccess error if the file cannot be read.
func (d *Delivery) Run(ctx context.Context) error {
	file, err := peer.LoadFile(d.req.Path)
	if err != nil {
		d.track(ctx, db.StatusFailed, err)
		return err
	}

	if d.policy.MaxLifetime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d.policy.MaxLifetime, ErrLifetimeExceeded)
		defer cancel()
	}

	d.logger.WithField("size", humanize.IBytes(uint64(len(file.Data)))).Info("Waiting for peer to come online")

	ticker := time.NewTicker(d.policy.Interval)
	defer ticker.Stop()

	d.setState(ctx, StatePolling, nil)
	for {
		alive := d.client.Heartbeat(ctx, d.req.Endpoint, d.policy.ProbeTimeout)
		d.probes++

		if alive {
			err := d.deliver(ctx, file)
			if err == nil {
				return nil
			}
			if ctx.Err() == nil {
				d.logger.Warnf("Delivery attempt %d failed, polling again: %v", d.attempts, err)
				d.setState(ctx, StatePolling, err)
			}
		} else {
			d.logger.Debugf("Peer not accessible (probe %d)", d.probes)
		}

		select {
		case <-ctx.Done():
			return d.stop(ctx)
		case <-ticker.C:
		}
	}
}

func (d *Delivery) deliver(ctx context.Context, file *peer.File) error {
	d.attempts++
	d.setState(ctx, StateConnecting, nil)

	conn, err := d.client.Dial(ctx, d.req.Endpoint)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	d.setState(ctx, StateSending, nil)
	if err := conn.SendFile(ctx, file.Data, file.Name); err != nil {
		return err
	}

	d.setState(ctx, StateTerminated, nil)
	d.confirm.OnConfirm(transport.TransferInfo{
		Name:       file.Name,
		Size:       int64(len(file.Data)),
		Sender:     d.req.Identity,
		RemoteAddr: conn.RemoteAddr(),
	})
	return nil
}

func (d *Delivery) stop(ctx context.Context) error {
	err := context.Cause(ctx)
	if errors.Is(err, ErrLifetimeExceeded) {
		d.logger.Warnf("Giving up after %s", d.policy.MaxLifetime)
		d.track(context.WithoutCancel(ctx), db.StatusFailed, err)
		return ErrLifetimeExceeded
	}

	d.logger.Info("Delivery cancelled")
	d.track(context.WithoutCancel(ctx), db.StatusCancelled, nil)
	return ctx.Err()
}

func (d *Delivery) setState(ctx context.Context, s State, cause error) {
	d.state = s
	d.track(ctx, s.status(), cause)
}

func (d *Delivery) track(ctx context.Context, status db.DeliveryStatus, cause error) {
	if d.tracker == nil || d.req.ID == "" {
		return
	}

	var lastErr string
	if cause != nil {
		lastErr = cause.Error()
	}
	if err := d.tracker.SetStatus(ctx, d.req.ID, status, d.attempts, lastErr); err != nil {
		d.logger.Warnf("Failed to record delivery status %s: %v", status, err)
	}
}

func (d *Delivery) logConfirm(info transport.TransferInfo) {
	d.logger.WithFields(logrus.Fields{
		"size":     humanize.IBytes(uint64(info.Size)),
		"attempts": d.attempts,
	}).Info("File delivered, receiver acknowledged")
}
