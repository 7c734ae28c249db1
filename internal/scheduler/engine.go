// Package scheduler decides when monitoring cycles run.
//
// The engine moves through idle -> waiting -> running -> waiting ... -> stopped.
// At most one cycle runs at a time: a trigger that arrives while a cycle is in
// flight is skipped and counted. A *models.ConfigError from the runner stops the
// engine; every other outcome is recorded and the engine keeps waiting.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/meterbot/internal/logger"
	"github.com/rewired-gh/meterbot/internal/models"
)

// State of the engine
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ErrBusy is returned by RunOnce when a cycle is already in flight
var ErrBusy = errors.New("a monitoring cycle is already running")

// ErrStopped is returned by RunOnce after the engine has stopped
var ErrStopped = errors.New("scheduler stopped")

// Runner executes one monitoring cycle
type Runner interface {
	RunCycle(ctx context.Context, meters []models.Meter) (*models.CycleReport, error)
}

// History provides recorded cycles, newest first, on startup
type History interface {
	RecentCycles(ctx context.Context, n int) ([]models.CycleSummary, error)
}

// restoreLookback bounds how many recorded cycles Restore reads to rebuild
// the failure streak.
const restoreLookback = 100

// Options configures an Engine
type Options struct {
	Schedule   Schedule
	RunOnStart bool
	// OnFailure is called after a cycle in which every meter failed, with the
	// length of the current failure streak.
	OnFailure func(ctx context.Context, report *models.CycleReport, streak int)
	// OnRecovery is called after the first successful cycle that ends a streak.
	OnRecovery func(ctx context.Context, streak int)
}

// Engine triggers monitoring cycles on a schedule
type Engine struct {
	runner Runner
	meters []models.Meter
	opts   Options
	now    func() time.Time

	state   atomic.Int32
	running atomic.Bool
	skipped atomic.Int64
	fatal   chan error
	wg      sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	nextRun  time.Time
	last     *models.CycleSummary
	failures int
}

// New creates a new Engine. The meter list is copied.
func New(runner Runner, meters []models.Meter, opts Options) *Engine {
	return &Engine{
		runner: runner,
		meters: append([]models.Meter(nil), meters...),
		opts:   opts,
		now:    time.Now,
		fatal:  make(chan error, 1),
	}
}

// Restore loads recorded cycles so the last outcome and the failure streak
// survive restarts.
func (e *Engine) Restore(ctx context.Context, h History) error {
	cycles, err := h.RecentCycles(ctx, restoreLookback)
	if err != nil {
		return fmt.Errorf("failed to load recent cycles: %w", err)
	}
	if len(cycles) == 0 {
		return nil
	}

	streak := 0
	for i := range cycles {
		if cycles[i].Outcome() != "failed" {
			break
		}
		streak++
	}

	last := cycles[0]
	e.mu.Lock()
	e.last = &last
	e.failures = streak
	e.mu.Unlock()
	logger.Debug("Restored last cycle %s from %v (%s, failure streak %d)", last.ID, last.StartedAt, last.Outcome(), streak)
	return nil
}

// Run triggers cycles on the schedule until ctx is done or a cycle fails
// fatally. It waits for an in-flight cycle before returning.
func (e *Engine) Run(ctx context.Context) error {
	if e.opts.Schedule == nil {
		return &models.ConfigError{Field: "schedule", Reason: "no schedule configured"}
	}
	defer e.stop()
	e.setState(StateWaiting)
	logger.Info("Scheduler started: %s", e.opts.Schedule)

	if e.opts.RunOnStart {
		logger.Debug("Running initial monitoring cycle")
		e.Trigger(ctx)
	}

	for {
		next := e.opts.Schedule.Next(e.now())
		e.mu.Lock()
		e.nextRun = next
		e.mu.Unlock()
		logger.Debug("Next monitoring cycle at %v", next)

		timer := time.NewTimer(next.Sub(e.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Scheduler stopping")
			return nil
		case err := <-e.fatal:
			timer.Stop()
			logger.Error("Scheduler stopping on fatal error: %v", err)
			return err
		case <-timer.C:
			logger.Debug("Scheduled trigger fired")
			e.Trigger(ctx)
		}
	}
}

// Trigger starts a cycle in the background. It returns false when a cycle is
// already running or the engine has stopped.
func (e *Engine) Trigger(ctx context.Context) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	if !e.running.CompareAndSwap(false, true) {
		e.mu.Unlock()
		n := e.skipped.Add(1)
		logger.Warn("Monitoring cycle already running; trigger skipped (%d skipped so far)", n)
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.running.Store(false)
		e.runCycle(ctx)
	}()
	return true
}

// RunOnce runs a single cycle synchronously and stops the engine.
func (e *Engine) RunOnce(ctx context.Context) (*models.CycleReport, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrStopped
	}
	if !e.running.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.wg.Add(1)
	e.mu.Unlock()

	report, err := e.runCycle(ctx)
	e.running.Store(false)
	e.wg.Done()
	e.stop()
	return report, err
}

// Status returns a snapshot of the engine
func (e *Engine) Status() models.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := models.EngineStatus{
		State:               e.State().String(),
		NextRun:             e.nextRun,
		SkippedTriggers:     e.skipped.Load(),
		ConsecutiveFailures: e.failures,
	}
	if e.opts.Schedule != nil {
		st.Schedule = e.opts.Schedule.String()
	}
	if e.last != nil {
		last := *e.last
		st.LastCycle = &last
	}
	return st
}

// State returns the current engine state
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) runCycle(ctx context.Context) (*models.CycleReport, error) {
	e.setState(StateRunning)
	defer func() {
		e.mu.Lock()
		if !e.stopped {
			e.setState(StateWaiting)
		}
		e.mu.Unlock()
	}()

	started := e.now()
	report, err := e.runner.RunCycle(ctx, e.meters)
	if err != nil {
		var cfgErr *models.ConfigError
		if errors.As(err, &cfgErr) {
			select {
			case e.fatal <- err:
			default:
			}
		}
		logger.Error("Monitoring cycle failed: %v", err)
		e.record(ctx, nil, &models.CycleSummary{StartedAt: started, FinishedAt: e.now(), Error: err.Error()})
		return nil, err
	}

	summary := report.Summary()
	e.record(ctx, report, &summary)
	return report, nil
}

func (e *Engine) record(ctx context.Context, report *models.CycleReport, summary *models.CycleSummary) {
	e.mu.Lock()
	e.last = summary
	failed := summary.Outcome() == "failed" || summary.Outcome() == "error"
	streak := e.failures
	if failed {
		e.failures++
		streak = e.failures
	} else {
		e.failures = 0
	}
	e.mu.Unlock()

	switch {
	case failed && report != nil && e.opts.OnFailure != nil:
		e.opts.OnFailure(ctx, report, streak)
	case !failed && streak > 0 && e.opts.OnRecovery != nil:
		e.opts.OnRecovery(ctx, streak)
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Engine) stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.wg.Wait()
	e.setState(StateStopped)
}
