package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"worldbackup/internal/cycle"
	"worldbackup/internal/logging"
)

// ErrBusy is returned when a cycle or maintenance task already holds the
// scheduler.
var ErrBusy = errors.New("scheduler: a backup cycle or maintenance task is already running")

// Runner executes one backup cycle.
type Runner interface {
	Run(ctx context.Context) cycle.Outcome
}

// Options configures the timer loop.
type Options struct {
	Interval time.Duration
	// Jitter adds a random delay in [0, Jitter] to every wait.
	Jitter     time.Duration
	RunOnStart bool
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running     bool           `json:"running"`
	Busy        bool           `json:"busy"`
	Cycles      int            `json:"cycles"`
	NextRun     time.Time      `json:"next_run"`
	LastOutcome *cycle.Outcome `json:"last_outcome,omitempty"`
}

// Scheduler fires backup cycles on a timer and serializes every cycle with
// maintenance work such as manual pruning.
type Scheduler struct {
	runner Runner
	opts   Options
	logger *slog.Logger

	trigger chan struct{}
	// fatal carries the error of a fatal manual cycle to the loop.
	fatal chan error
	// busy is held for the duration of a cycle or an Exclusive call.
	busy     sync.Mutex
	inFlight atomic.Bool

	mu      sync.RWMutex
	running bool
	cycles  int
	next    time.Time
	last    *cycle.Outcome
	jitter  func(n int64) int64
}

// New builds a scheduler.
func New(runner Runner, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	return &Scheduler{
		runner:  runner,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		trigger: make(chan struct{}, 1),
		fatal:   make(chan error, 1),
		jitter:  rand.Int64N,
	}
}

// Run drives the timer loop until ctx is cancelled, returning nil. A cycle
// that reports a fatal outcome stops the loop and its error is returned,
// including cycles started through RunNow.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.next = time.Time{}
		s.mu.Unlock()
	}()

	s.logger.Info("scheduler started",
		logging.Duration("interval", s.opts.Interval),
		logging.Duration("jitter", s.opts.Jitter),
		logging.Bool("run_on_start", s.opts.RunOnStart),
	)

	if s.opts.RunOnStart {
		if err := s.fire(ctx, "startup"); err != nil {
			return err
		}
	}

	for {
		wait := s.delay()
		s.setNext(time.Now().Add(wait))
		timer := time.NewTimer(wait)
		reason := "timer"
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		case <-s.trigger:
			timer.Stop()
			reason = "trigger"
		case err := <-s.fatal:
			timer.Stop()
			s.logger.Error("manual cycle hit a fatal error; stopping scheduler",
				logging.String(logging.FieldEventType, "scheduler_fatal"),
				logging.Error(err),
			)
			return err
		}
		if err := s.fire(ctx, reason); err != nil {
			return err
		}
	}
}

// Trigger asks the loop to start a cycle now. Triggers that arrive while a
// cycle is waiting to start or running are coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// RunNow runs one cycle synchronously. It returns ErrBusy instead of waiting
// when another cycle or maintenance task holds the scheduler. A fatal outcome
// also stops a running loop.
func (s *Scheduler) RunNow(ctx context.Context) (cycle.Outcome, error) {
	out, err := s.runCycle(ctx)
	if err == nil && out.Fatal() {
		select {
		case s.fatal <- out.Err:
		default:
		}
	}
	return out, err
}

func (s *Scheduler) runCycle(ctx context.Context) (cycle.Outcome, error) {
	if !s.busy.TryLock() {
		return cycle.Outcome{}, ErrBusy
	}
	defer s.busy.Unlock()
	s.inFlight.Store(true)
	defer s.inFlight.Store(false)

	out := s.runner.Run(ctx)
	s.mu.Lock()
	s.cycles++
	s.last = &out
	s.mu.Unlock()
	return out, nil
}

// Exclusive runs fn while holding the scheduler so no cycle can start.
func (s *Scheduler) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	if !s.busy.TryLock() {
		return ErrBusy
	}
	defer s.busy.Unlock()
	s.inFlight.Store(true)
	defer s.inFlight.Store(false)
	return fn(ctx)
}

// Status reports the loop state and the last outcome.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := Status{
		Running: s.running,
		Busy:    s.inFlight.Load(),
		Cycles:  s.cycles,
		NextRun: s.next,
	}
	if s.last != nil {
		last := *s.last
		status.LastOutcome = &last
	}
	return status
}

func (s *Scheduler) fire(ctx context.Context, reason string) error {
	s.setNext(time.Time{})
	out, err := s.runCycle(ctx)
	s.drainTrigger()
	if errors.Is(err, ErrBusy) {
		s.logger.Info("scheduled cycle skipped; another task is running",
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "cycle_coalesced"),
		)
		return nil
	}
	if out.Fatal() {
		logging.ErrorWithContext(s.logger, "catalog invariant violated; stopping scheduler", "scheduler_fatal",
			logging.String(logging.FieldCycleID, out.ID),
			logging.Error(out.Err),
			logging.String(logging.FieldErrorHint, "inspect the backup directory and restart the daemon"),
		)
		return out.Err
	}
	return nil
}

func (s *Scheduler) drainTrigger() {
	select {
	case <-s.trigger:
	default:
	}
}

func (s *Scheduler) delay() time.Duration {
	if s.opts.Jitter <= 0 {
		return s.opts.Interval
	}
	return s.opts.Interval + time.Duration(s.jitter(int64(s.opts.Jitter)+1))
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
}
