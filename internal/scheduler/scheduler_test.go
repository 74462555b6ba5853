package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"worldbackup/internal/cycle"
	"worldbackup/internal/faults"
	"worldbackup/internal/logging"
	"worldbackup/internal/scheduler"
)

type fakeRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	outcome cycle.Outcome
	// sawCancel is set when a blocked run observed ctx cancellation.
	sawCancel atomic.Bool
}

func (f *fakeRunner) Run(ctx context.Context) cycle.Outcome {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			f.sawCancel.Store(true)
			return cycle.Outcome{Kind: cycle.Failed, Err: ctx.Err()}
		}
	}
	out := f.outcome
	if out.Kind == "" {
		out.Kind = cycle.Success
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startLoop(t *testing.T, s *scheduler.Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func TestRunFiresOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{}
	s := scheduler.New(runner, scheduler.Options{Interval: 10 * time.Millisecond}, logging.NewNop())
	cancel, done := startLoop(t, s)

	waitFor(t, "two cycles", func() bool { return runner.calls.Load() >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	status := s.Status()
	if status.Running || status.Cycles < 2 || status.LastOutcome == nil {
		t.Fatalf("unexpected status after stop: %+v", status)
	}
}

func TestTriggerWakesLoopEarly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{}
	s := scheduler.New(runner, scheduler.Options{Interval: time.Hour, Jitter: time.Minute}, logging.NewNop())
	cancel, done := startLoop(t, s)
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "loop running", func() bool { return !s.Status().NextRun.IsZero() })
	next := s.Status().NextRun
	if until := time.Until(next); until < 59*time.Minute || until > 61*time.Minute+time.Second {
		t.Fatalf("next run %s outside interval plus jitter", until)
	}

	s.Trigger()
	waitFor(t, "triggered cycle", func() bool { return runner.calls.Load() == 1 })
	waitFor(t, "loop idle", func() bool { return !s.Status().NextRun.IsZero() })
	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("one trigger should run one cycle, got %d", got)
	}
}

func TestTriggersDuringCycleAreCoalesced(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := scheduler.New(runner, scheduler.Options{Interval: time.Hour, RunOnStart: true}, logging.NewNop())
	cancel, done := startLoop(t, s)
	defer func() {
		cancel()
		<-done
	}()

	<-runner.started
	s.Trigger()
	s.Trigger()
	close(runner.release)

	waitFor(t, "loop idle", func() bool { return !s.Status().NextRun.IsZero() })
	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("triggers during a cycle must not queue another, got %d cycles", got)
	}
}

func TestRunOnStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{}
	s := scheduler.New(runner, scheduler.Options{Interval: time.Hour, RunOnStart: true}, logging.NewNop())
	cancel, done := startLoop(t, s)
	waitFor(t, "startup cycle", func() bool { return runner.calls.Load() == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestRunNowAndExclusiveReturnBusy(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := scheduler.New(runner, scheduler.Options{Interval: time.Hour}, logging.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.RunNow(context.Background()); err != nil {
			t.Errorf("first RunNow: %v", err)
		}
	}()
	<-runner.started

	if !s.Status().Busy {
		t.Fatal("expected busy status while a cycle runs")
	}
	if _, err := s.RunNow(context.Background()); !errors.Is(err, scheduler.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	called := false
	err := s.Exclusive(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, scheduler.ErrBusy) || called {
		t.Fatalf("expected Exclusive to be refused, err=%v called=%v", err, called)
	}

	close(runner.release)
	wg.Wait()

	if err := s.Exclusive(context.Background(), func(context.Context) error {
		called = true
		return nil
	}); err != nil || !called {
		t.Fatalf("expected Exclusive to run once idle, err=%v", err)
	}
}

func TestFatalOutcomeStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{outcome: cycle.Outcome{
		Kind: cycle.Failed,
		Err:  faults.Wrap(faults.ErrCatalogInvariant, "catalog", "append", "duplicate identity", nil),
	}}
	s := scheduler.New(runner, scheduler.Options{Interval: time.Hour, RunOnStart: true}, logging.NewNop())
	_, done := startLoop(t, s)

	select {
	case err := <-done:
		if !errors.Is(err, faults.ErrCatalogInvariant) {
			t.Fatalf("expected catalog invariant error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop on fatal outcome")
	}
}

func TestManualFatalCycleStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{outcome: cycle.Outcome{
		Kind: cycle.Failed,
		Err:  faults.Wrap(faults.ErrCatalogInvariant, "catalog", "append", "backup ids must increase", nil),
	}}
	s := scheduler.New(runner, scheduler.Options{Interval: time.Hour}, logging.NewNop())
	cancel, done := startLoop(t, s)
	defer cancel()
	waitFor(t, "loop running", func() bool { return s.Status().Running })

	out, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !out.Fatal() {
		t.Fatalf("expected fatal outcome, got %s %v", out.Kind, out.Err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, faults.ErrCatalogInvariant) {
			t.Fatalf("expected catalog invariant error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after fatal manual cycle")
	}
	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("expected one cycle, got %d", got)
	}
}

func TestShutdownCancelsInFlightCycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := scheduler.New(runner, scheduler.Options{Interval: time.Hour, RunOnStart: true}, logging.NewNop())
	cancel, done := startLoop(t, s)
	<-runner.started

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	if !runner.sawCancel.Load() {
		t.Fatal("in-flight cycle did not observe cancellation")
	}
}
