package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	gobreaker "github.com/sony/gobreaker/v2"

	"worldbackup/internal/faults"
	"worldbackup/internal/logging"
)

// State is the coordinator's view of the live server.
type State int

const (
	Running State = iota
	Quiescing
	Quiesced
	Resuming
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Quiescing:
		return "quiescing"
	case Quiesced:
		return "quiesced"
	case Resuming:
		return "resuming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	defaultQuiesceTimeout  = 30 * time.Second
	defaultResumeTimeout   = 10 * time.Second
	defaultResumeAttempts  = 3
	defaultResumeBackoff   = 500 * time.Millisecond
	defaultResumeMaxWait   = 5 * time.Second
	defaultBreakerCooldown = 30 * time.Minute
)

// Options bounds the coordinator's requests.
type Options struct {
	QuiesceTimeout time.Duration
	ResumeTimeout  time.Duration
	ResumeAttempts int
	// ResumeBackoff is the first wait between resume attempts.
	ResumeBackoff time.Duration
	// BreakerThreshold opens the quiesce circuit after this many consecutive
	// failures. Zero disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// OnBreakerStateChange observes circuit transitions.
	OnBreakerStateChange func(state string)
}

// Coordinator moves the live server through the quiesce/resume window.
type Coordinator struct {
	control Control
	opts    Options
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu    sync.Mutex
	state State
}

// NewCoordinator builds a coordinator. The server is assumed Running.
func NewCoordinator(control Control, opts Options, logger *slog.Logger) *Coordinator {
	if control == nil {
		control = Noop{}
	}
	if opts.QuiesceTimeout <= 0 {
		opts.QuiesceTimeout = defaultQuiesceTimeout
	}
	if opts.ResumeTimeout <= 0 {
		opts.ResumeTimeout = defaultResumeTimeout
	}
	if opts.ResumeAttempts <= 0 {
		opts.ResumeAttempts = defaultResumeAttempts
	}
	if opts.ResumeBackoff <= 0 {
		opts.ResumeBackoff = defaultResumeBackoff
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaultBreakerCooldown
	}
	c := &Coordinator{
		control: control,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "server"),
		state:   Running,
	}
	if opts.BreakerThreshold > 0 {
		c.breaker = c.newBreaker()
	}
	return c
}

func (c *Coordinator) newBreaker() *gobreaker.CircuitBreaker[struct{}] {
	threshold := uint32(c.opts.BreakerThreshold)
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "server-quiesce",
		MaxRequests: 1,
		Timeout:     c.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("quiesce circuit state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
			if c.opts.OnBreakerStateChange != nil {
				c.opts.OnBreakerStateChange(to.String())
			}
		},
	})
}

// State returns the current server state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev != next {
		c.logger.Debug("server state changed",
			logging.String("from", prev.String()),
			logging.String("to", next.String()),
		)
	}
}

// Quiesce asks the server to flush and pause world writes. On timeout or
// rejection the coordinator reverts to Running and returns an
// ErrServerUnresponsive error; resume must not be attempted. If ctx itself
// is cancelled the context error is returned instead.
func (c *Coordinator) Quiesce(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Running {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("server: quiesce requested while %s", state)
	}
	c.state = Quiescing
	c.mu.Unlock()

	start := time.Now()
	qctx, cancel := context.WithTimeout(ctx, c.opts.QuiesceTimeout)
	err := c.requestQuiesce(qctx)
	cancel()
	if err == nil {
		c.setState(Quiesced)
		c.logger.Info("server quiesced", logging.Duration("ack_time", time.Since(start)))
		return nil
	}

	rejected := errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
	if !rejected {
		c.revert(ctx)
	}
	c.setState(Running)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch {
	case rejected:
		return faults.Wrap(faults.ErrServerUnresponsive, "server", "quiesce",
			"quiesce circuit is open after repeated failures", err)
	case errors.Is(err, context.DeadlineExceeded):
		return faults.Wrap(faults.ErrServerUnresponsive, "server", "quiesce",
			fmt.Sprintf("no acknowledgement within %s", c.opts.QuiesceTimeout), err)
	default:
		return faults.Wrap(faults.ErrServerUnresponsive, "server", "quiesce", "quiesce request failed", err)
	}
}

func (c *Coordinator) requestQuiesce(ctx context.Context) error {
	if c.breaker == nil {
		return c.control.RequestQuiesce(ctx)
	}
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.control.RequestQuiesce(ctx)
	})
	return err
}

func (c *Coordinator) revert(ctx context.Context) {
	reverter, ok := c.control.(Reverter)
	if !ok {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ResumeTimeout)
	defer cancel()
	if err := reverter.RevertQuiesce(rctx); err != nil {
		logging.WarnWithContext(c.logger, "autosave could not be re-enabled after failed quiesce", "server_revert_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the server console and run save-on manually"),
			logging.String(logging.FieldImpact, "server may keep autosave disabled until the next resume"),
		)
	}
}

// Resume re-enables world writes. It ignores cancellation of ctx so a
// shutdown never leaves the server paused, and retries with exponential
// backoff. Exhausting the attempts returns an ErrServerUnresponsive error.
// Resume from any state other than Quiesced is a no-op.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Quiesced {
		c.mu.Unlock()
		return nil
	}
	c.state = Resuming
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ResumeBackoff
	policy.MaxInterval = max(defaultResumeMaxWait, c.opts.ResumeBackoff)

	attempts := 0
	_, err := backoff.Retry(detached, func() (struct{}, error) {
		attempts++
		actx, cancel := context.WithTimeout(detached, c.opts.ResumeTimeout)
		defer cancel()
		return struct{}{}, c.control.RequestResume(actx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.opts.ResumeAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("resume attempt failed; retrying",
				logging.Error(err),
				logging.Duration("retry_in", wait),
				logging.String(logging.FieldEventType, "server_resume_retry"),
				logging.String(logging.FieldErrorHint, "check the server console"),
				logging.String(logging.FieldImpact, "server stays paused until resume succeeds"),
			)
		}),
	)
	c.setState(Running)
	if err != nil {
		return faults.Wrap(faults.ErrServerUnresponsive, "server", "resume",
			fmt.Sprintf("resume not acknowledged after %d attempts", attempts), err)
	}
	c.logger.Info("server resumed", logging.Int("attempts", attempts))
	return nil
}
