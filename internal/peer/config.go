package peer

import (
	"errors"
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

var ErrInvalidPolicy = errors.New("invalid retry policy")

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 2 * time.Second
)

// RetryPolicy bounds the liveness probe: at most MaxAttempts back-to-back
// heartbeats, each allowed Timeout to answer.
type RetryPolicy struct {
	MaxAttempts int
	Timeout     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Timeout: DefaultTimeout}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d, need at least 1", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: timeout %s must be positive", ErrInvalidPolicy, p.Timeout)
	}
	return nil
}

// MaxWait is the longest IsAlive can block under this policy.
func (p RetryPolicy) MaxWait() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Timeout
}

type Options struct {
	Identity string
	Client   Client
	Server   Listener
	Spawner  Spawner
	Recorder Recorder
	// Retry is used by SendFile; the zero value means DefaultRetryPolicy.
	Retry  RetryPolicy
	Logger *logrus.Logger
}

// DeferredRequest is everything a background delivery process needs. It is
// passed to the process on its command line.
type DeferredRequest struct {
	ID       string
	Endpoint transport.Endpoint
	Path     string
	Identity string
}
