// Package peer decides whether and how a file gets to a remote peer: it
// probes liveness, sends synchronously when the peer answers, and otherwise
// hands the file to a background delivery process.
package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/moby/locker"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrTransfer = errors.New("transfer failed")
	ErrSpawn    = errors.New("cannot start background delivery")
	ErrNoServer = errors.New("no listener configured")
)

type Outcome int

const (
	OutcomeDelivered Outcome = iota + 1
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

type Peer struct {
	identity string
	client   Client
	server   Listener
	spawner  Spawner
	recorder Recorder
	retry    RetryPolicy
	logger   *logrus.Logger

	// one liveness check and send per endpoint at a time
	locks *locker.Locker
}

func New(opts Options) (*Peer, error) {
	if opts.Client == nil {
		return nil, errors.New("peer: client is required")
	}

	retry := opts.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	if err := retry.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	return &Peer{
		identity: opts.Identity,
		client:   opts.Client,
		server:   opts.Server,
		spawner:  opts.Spawner,
		recorder: opts.Recorder,
		retry:    retry,
		logger:   log,
		locks:    locker.New(),
	}, nil
}

func (p *Peer) Identity() string {
	return p.identity
}

// Available reports the result of the most recent send decision.
func (p *Peer) Available() bool {
	return p.client.Available()
}

// Listen binds ep and serves inbound transfers on a separate goroutine until
// ctx is cancelled. Bind failures are returned; handler is the only state
// shared with the listener.
func (p *Peer) Listen(ctx context.Context, ep transport.Endpoint, handler transport.InboundHandler) error {
	if p.server == nil {
		return ErrNoServer
	}
	if err := p.server.Listen(ep); err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}

	go func() {
		if err := p.server.Serve(ctx, handler); err != nil {
			p.logger.Errorf("Listener stopped: %v", err)
		}
	}()
	return nil
}

// IsAlive sends up to policy.MaxAttempts heartbeats back to back and reports
// whether any was answered. It stops early if ctx is cancelled.
func (p *Peer) IsAlive(ctx context.Context, ep transport.Endpoint, policy RetryPolicy) bool {
	log := p.logger.WithField("peer", ep.String())
	log.Debugf("Probing peer, giving up after %s", policy.MaxWait())

	for i := 1; i <= policy.MaxAttempts; i++ {
		if ctx.Err() != nil {
			return false
		}
		if p.client.Heartbeat(ctx, ep, policy.Timeout) {
			return true
		}
		log.Warnf("Peer not accessible, trying again (%d/%d)", i, policy.MaxAttempts)
	}

	log.Warn("Peer not accessible")
	return false
}

// SendFile delivers the file at path to ep. If the peer answers a liveness
// probe the file is sent before SendFile returns and update is called once
// beforehand. Otherwise a background delivery process takes over, SendFile
// returns OutcomeDeferred without reading the file, and update is not called.
//
// A missing or unreadable file fails with ErrFileAccess before any network
// activity. Sends to the same endpoint are serialised.
func (p *Peer) SendFile(ctx context.Context, ep transport.Endpoint, path string, update UpdateHandler) (Outcome, error) {
	if err := ep.Validate(); err != nil {
		return 0, err
	}

	abs, err := CheckFile(path)
	if err != nil {
		return 0, err
	}

	key := ep.String()
	p.locks.Lock(key)
	defer func() { _ = p.locks.Unlock(key) }()

	if !p.IsAlive(ctx, ep, p.retry) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p.client.SetAvailable(false)
		return p.deferDelivery(ctx, ep, abs)
	}
	p.client.SetAvailable(true)

	if update != nil {
		update.OnSendStart(ep, abs)
	}

	conn, err := p.client.Dial(ctx, ep)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	defer func() { _ = conn.Close() }()

	file, err := LoadFile(abs)
	if err != nil {
		return 0, err
	}

	if err := conn.SendFile(ctx, file.Data, file.Name); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransfer, err)
	}

	p.logger.WithFields(logrus.Fields{
		"peer": ep.String(),
		"file": file.Name,
	}).Info("File delivered")
	return OutcomeDelivered, nil
}

func (p *Peer) deferDelivery(ctx context.Context, ep transport.Endpoint, path string) (Outcome, error) {
	if p.spawner == nil {
		return 0, fmt.Errorf("%w: no spawner configured", ErrSpawn)
	}

	req := DeferredRequest{
		Endpoint: ep,
		Path:     path,
		Identity: p.identity,
	}

	if p.recorder != nil {
		id, err := p.recorder.RecordDeferred(ctx, ep, path, p.identity)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		req.ID = id
	}

	log := p.logger.WithFields(logrus.Fields{
		"peer":     ep.String(),
		"file":     ExtractFileName(path),
		"delivery": req.ID,
	})
	log.Info("Creating a background process for sending the file")

	pid, err := p.spawner.Spawn(ctx, req)
	if err != nil {
		if p.recorder != nil && req.ID != "" {
			if rerr := p.recorder.SetStatus(ctx, req.ID, db.StatusFailed, 0, err.Error()); rerr != nil {
				log.Warnf("Failed to record spawn failure: %v", rerr)
			}
		}
		return 0, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	if p.recorder != nil && req.ID != "" {
		if err := p.recorder.SetPID(ctx, req.ID, pid); err != nil {
			log.Warnf("Failed to record delivery process: %v", err)
		}
	}

	log.WithField("pid", pid).Debug("Background delivery started")
	return OutcomeDeferred, nil
}
