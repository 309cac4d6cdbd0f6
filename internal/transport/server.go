package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const drainTimeout = time.Second

var errListenerClosed = errors.New("listener closed")

type Server struct {
	config ServerConfig
	codec  *protocol.Codec
	logger *logrus.Logger

	mu       sync.Mutex
	listener net.Listener
	active   atomic.Int32
	// guards the check-then-rename in finish
	storeMu sync.Mutex
}

func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "."
	}

	return &Server{
		config: cfg,
		codec:  protocol.NewCodec(),
		logger: log,
	}
}

// Listen binds the endpoint. Binding errors are returned here so callers can
// surface them before the accept loop starts.
func (s *Server) Listen(ep Endpoint) error {
	if ep.Port < 0 || ep.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, ep.Port)
	}
	if err := os.MkdirAll(s.config.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}

	l, err := net.Listen("tcp", ep.String())
	if err != nil {
		return fmt.Errorf("binding %s: %w", ep, err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Serve accepts connections until ctx is cancelled or the server is closed.
// It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context, handler InboundHandler) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("server is not listening")
	}
	if handler == nil {
		handler = InboundFuncs{}
	}

	s.logger.WithField("addr", l.Addr().String()).Info("Listening for transfers")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		_ = l.Close()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) || gctx.Err() != nil {
					return errListenerClosed
				}
				s.logger.Errorf("Failed to accept connection: %v", err)
				continue
			}

			g.Go(func() error {
				s.handleConn(gctx, conn, handler)
				return nil
			})
		}
	})

	err := g.Wait()
	if errors.Is(err, errListenerClosed) {
		s.logger.Info("Listener stopped")
		return nil
	}
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, handler InboundHandler) {
	remoteAddr := conn.RemoteAddr().String()
	log := s.logger.WithField("peer", remoteAddr)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() { _ = conn.Close() }()

	var rx *receive
	defer func() {
		if rx != nil {
			rx.abort()
			s.active.Add(-1)
		}
	}()

	for {
		_ = conn.SetDeadline(time.Now().Add(s.config.IdleTimeout))

		msg, err := s.codec.Decode(conn)
		if err != nil {
			if rx != nil {
				log.Warnf("Transfer of %s interrupted: %v", rx.info.Name, err)
			}
			return
		}

		switch msg.Type {
		case protocol.MsgHeartbeat:
			log.Debug("Received heartbeat")
			if err := s.codec.Encode(conn, protocol.Heartbeat()); err != nil {
				log.Debugf("Failed to answer heartbeat: %v", err)
				return
			}

		case protocol.MsgHeader:
			if rx != nil {
				s.reject(conn, protocol.ErrInvalidMsg, "header received twice")
				return
			}
			if !s.acquire() {
				log.Warnf("Rejecting %s: %d transfers already running", msg.Name, s.config.MaxTransfers)
				s.reject(conn, protocol.ErrBusy, "too many concurrent transfers")
				return
			}

			info := TransferInfo{
				Name:       sanitizeName(msg.Name),
				Size:       int64(msg.Size),
				Sender:     msg.Sender,
				RemoteAddr: remoteAddr,
			}
			rx, err = newReceive(s.config.DownloadDir, info)
			if err != nil {
				s.active.Add(-1)
				log.Errorf("Failed to prepare %s: %v", info.Name, err)
				s.reject(conn, protocol.ErrWrite, "cannot store file")
				return
			}
			log.WithFields(logrus.Fields{
				"file":   info.Name,
				"size":   humanize.Bytes(msg.Size),
				"sender": info.Sender,
			}).Info("Incoming transfer")
			handler.OnTransferStart(info)

		case protocol.MsgData:
			if rx == nil {
				s.reject(conn, protocol.ErrInvalidMsg, "data before header")
				return
			}
			if err := rx.write(msg.Data); err != nil {
				log.Errorf("Failed to write %s: %v", rx.info.Name, err)
				s.reject(conn, protocol.ErrWrite, err.Error())
				return
			}
			handler.OnProgress(rx.info, rx.received)

		case protocol.MsgDataEnd:
			if rx == nil {
				s.reject(conn, protocol.ErrInvalidMsg, "terminator before header")
				return
			}
			storedPath, err := s.finish(rx)
			if err != nil {
				log.Errorf("Failed to store %s: %v", rx.info.Name, err)
				s.reject(conn, protocol.ErrWrite, err.Error())
				return
			}
			info := rx.info
			rx = nil
			s.active.Add(-1)

			if s.config.Receipts != nil {
				if err := s.config.Receipts.RecordReceipt(ctx, info, storedPath); err != nil {
					log.Warnf("Failed to record receipt: %v", err)
				}
			}

			if err := s.codec.Encode(conn, protocol.Fin(s.config.Identity)); err != nil {
				log.Warnf("Failed to confirm %s: %v", info.Name, err)
				return
			}
			log.WithField("path", storedPath).Infof("Received %s from %s", info.Name, info.Sender)
			return

		default:
			log.Warnf("Unhandled message type %s", msg.Type)
			s.reject(conn, protocol.ErrInvalidMsg, "unexpected "+msg.Type.String())
			return
		}
	}
}

func (s *Server) acquire() bool {
	limit := s.config.MaxTransfers
	if a := s.config.Availability; a != nil && !a.Available() {
		limit = 1
	}

	n := s.active.Add(1)
	if limit > 0 && int(n) > limit {
		s.active.Add(-1)
		return false
	}
	return true
}

// reject replies with an error and drains whatever the sender still has in
// flight, so the sender reads the reply instead of a connection reset.
func (s *Server) reject(conn net.Conn, code protocol.ErrorCode, reason string) {
	if err := s.codec.Encode(conn, protocol.Error(code, reason)); err != nil {
		s.logger.Debugf("Failed to send error: %v", err)
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(drainTimeout))
	_, _ = io.Copy(io.Discard, conn)
}

func (s *Server) finish(rx *receive) (string, error) {
	if err := rx.close(); err != nil {
		return "", err
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	dst := uniquePath(s.config.DownloadDir, rx.info.Name)
	if err := os.Rename(rx.tmp.Name(), dst); err != nil {
		_ = os.Remove(rx.tmp.Name())
		return "", fmt.Errorf("moving into place: %w", err)
	}
	return dst, nil
}

// receive is one in-flight inbound file, spooled to a temp file in the
// download directory.
type receive struct {
	info     TransferInfo
	tmp      *os.File
	received int64
}

func newReceive(dir string, info TransferInfo) (*receive, error) {
	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return nil, err
	}
	return &receive{info: info, tmp: tmp}, nil
}

func (r *receive) write(chunk []byte) error {
	if r.received+int64(len(chunk)) > r.info.Size {
		return fmt.Errorf("received more than the announced %d bytes", r.info.Size)
	}
	n, err := r.tmp.Write(chunk)
	r.received += int64(n)
	return err
}

func (r *receive) close() error {
	if r.received != r.info.Size {
		r.abort()
		return fmt.Errorf("received %d of %d bytes", r.received, r.info.Size)
	}
	if err := r.tmp.Close(); err != nil {
		_ = os.Remove(r.tmp.Name())
		return err
	}
	return nil
}

func (r *receive) abort() {
	_ = r.tmp.Close()
	_ = os.Remove(r.tmp.Name())
}

func sanitizeName(name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if base == "/" || base == "." || base == "" {
		return "unnamed"
	}
	return base
}

func uniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
