// Package spawn starts background delivery processes that outlive the
// command that created them.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/sirupsen/logrus"
)

// DeliverCommand is the hidden subcommand that runs a background delivery.
const DeliverCommand = "deliver"

type Options struct {
	// Executable defaults to the running binary.
	Executable string
	// LogDir receives one deliver-<id>.log file per process.
	LogDir string
	// ConfigPath, when set, is passed on so the child sees the same settings.
	ConfigPath string
	Logger     *logrus.Logger
}

type Spawner struct {
	executable string
	logDir     string
	configPath string
	logger     *logrus.Logger
}

var _ peer.Spawner = (*Spawner)(nil)

func New(opts Options) (*Spawner, error) {
	exe := opts.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating executable: %w", err)
		}
	}
	if opts.LogDir == "" {
		return nil, errors.New("spawn: log directory is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	return &Spawner{
		executable: exe,
		logDir:     opts.LogDir,
		configPath: opts.ConfigPath,
		logger:     log,
	}, nil
}

// Args builds the command line of the delivery process, without argv[0].
func (s *Spawner) Args(req peer.DeferredRequest) []string {
	args := []string{DeliverCommand, "--background"}
	if req.ID != "" {
		args = append(args, "--delivery-id", req.ID)
	}
	if req.Identity != "" {
		args = append(args, "--name", req.Identity)
	}
	if s.configPath != "" {
		args = append(args, "--config", s.configPath)
	}
	return append(args, req.Endpoint.Host, strconv.Itoa(req.Endpoint.Port), req.Path)
}

// LogPath is where the output of the process for req goes.
func (s *Spawner) LogPath(req peer.DeferredRequest) string {
	name := req.ID
	if name == "" {
		name = strconv.Itoa(os.Getpid())
	}
	return filepath.Join(s.logDir, "deliver-"+name+".log")
}

// Spawn starts the delivery process in its own session and returns its pid.
// The process is not waited on.
func (s *Spawner) Spawn(_ context.Context, req peer.DeferredRequest) (int, error) {
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := s.LogPath(req)
	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening delivery log: %w", err)
	}
	defer out.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	// The child outlives ctx, so it is started without it.
	cmd := exec.Command(s.executable, s.Args(req)...)
	cmd.Stdin = devNull
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting delivery process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		s.logger.Warnf("Failed to release delivery process %d: %v", pid, err)
	}

	s.logger.WithFields(logrus.Fields{
		"pid": pid,
		"log": logPath,
	}).Debug("Delivery process started")
	return pid, nil
}
