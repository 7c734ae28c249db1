package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/meterbot/internal/models"
)

type fakeRunner struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	err     error
	failAll bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 16)}
}

func (f *fakeRunner) RunCycle(ctx context.Context, meters []models.Meter) (*models.CycleReport, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	kind := models.KindNoChange
	if f.failAll {
		kind = models.KindFetchFailed
	}
	r := &models.CycleReport{ID: "c", StartedAt: time.Now(), FinishedAt: time.Now()}
	for _, m := range meters {
		r.Results = append(r.Results, models.ClassificationResult{MeterID: m.ID, Kind: kind})
	}
	r.Tally()
	return r, nil
}

var meters = []models.Meter{{ID: "ayon", Name: "Ayon", AccountRef: "1"}}

func waitStarted(t *testing.T, f *fakeRunner) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not start")
	}
}

func TestTrigger_SingleFlight(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	e := New(runner, meters, Options{Schedule: Interval{Every: time.Hour}})
	ctx := context.Background()

	require.True(t, e.Trigger(ctx))
	waitStarted(t, runner)
	assert.Equal(t, StateRunning, e.State())

	// Two triggers during a long-running cycle are skipped
	assert.False(t, e.Trigger(ctx))
	assert.False(t, e.Trigger(ctx))

	close(runner.release)
	e.stop()

	assert.Equal(t, int32(1), runner.calls.Load())
	st := e.Status()
	assert.Equal(t, int64(2), st.SkippedTriggers)
	assert.Equal(t, "stopped", st.State)
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, 1, st.LastCycle.Succeeded)

	assert.False(t, e.Trigger(ctx), "trigger after stop must be refused")
}

func TestRun_FiresOnScheduleAndStops(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, meters, Options{Schedule: Interval{Every: 10 * time.Millisecond}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitStarted(t, runner)
	waitStarted(t, runner)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, e.State())
	assert.GreaterOrEqual(t, runner.calls.Load(), int32(2))
}

func TestRun_RunOnStart(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, meters, Options{Schedule: Interval{Every: time.Hour}, RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitStarted(t, runner)
	require.Eventually(t, func() bool { return e.Status().LastCycle != nil }, time.Second, 5*time.Millisecond)
	assert.False(t, e.Status().NextRun.IsZero())

	cancel()
	assert.NoError(t, <-done)
}

func TestRun_StopsOnConfigError(t *testing.T) {
	runner := newFakeRunner()
	runner.err = &models.ConfigError{Field: "meters", Reason: "at least one meter is required"}
	e := New(runner, meters, Options{Schedule: Interval{Every: time.Hour}, RunOnStart: true})

	err := e.Run(context.Background())
	var cfgErr *models.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, StateStopped, e.State())

	st := e.Status()
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, "error", st.LastCycle.Outcome())
}

func TestRun_RequiresSchedule(t *testing.T) {
	e := New(newFakeRunner(), meters, Options{})
	assert.Error(t, e.Run(context.Background()))
}

func TestRunOnce(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, meters, Options{Schedule: Interval{Every: time.Hour}})

	report, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Len(t, report.Results, 1)
	assert.Equal(t, StateStopped, e.State())

	_, err = e.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestFailureStreakAndRecovery(t *testing.T) {
	runner := newFakeRunner()
	runner.failAll = true

	var mu sync.Mutex
	var streaks []int
	recovered := 0
	e := New(runner, meters, Options{
		Schedule: Interval{Every: time.Hour},
		OnFailure: func(_ context.Context, _ *models.CycleReport, streak int) {
			mu.Lock()
			streaks = append(streaks, streak)
			mu.Unlock()
		},
		OnRecovery: func(_ context.Context, streak int) {
			recovered = streak
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.runCycle(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, e.Status().ConsecutiveFailures)

	runner.failAll = false
	_, err := e.runCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, streaks)
	assert.Equal(t, 2, recovered)
	assert.Equal(t, 0, e.Status().ConsecutiveFailures)
}

type stubHistory struct {
	cycles []models.CycleSummary
	err    error
}

func (s stubHistory) RecentCycles(_ context.Context, n int) ([]models.CycleSummary, error) {
	if len(s.cycles) > n {
		return s.cycles[:n], s.err
	}
	return s.cycles, s.err
}

func failedCycle(id string) models.CycleSummary {
	return models.CycleSummary{ID: id, Meters: 5, Succeeded: 0, Failed: 5}
}

func TestRestore(t *testing.T) {
	e := New(newFakeRunner(), meters, Options{Schedule: Interval{Every: time.Hour}})

	require.NoError(t, e.Restore(context.Background(), stubHistory{}))
	assert.Nil(t, e.Status().LastCycle)

	require.NoError(t, e.Restore(context.Background(), stubHistory{cycles: []models.CycleSummary{failedCycle("prev")}}))
	st := e.Status()
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, "prev", st.LastCycle.ID)
	assert.Equal(t, 1, st.ConsecutiveFailures)

	assert.Error(t, e.Restore(context.Background(), stubHistory{err: errors.New("locked")}))
}

func TestRestore_CountsStreakAcrossRestart(t *testing.T) {
	history := stubHistory{cycles: []models.CycleSummary{
		failedCycle("c4"),
		failedCycle("c3"),
		{ID: "c2", Meters: 5, Succeeded: 3, Failed: 2},
		failedCycle("c1"),
	}}

	runner := newFakeRunner()
	runner.failAll = true
	var streaks []int
	recovered := 0
	e := New(runner, meters, Options{
		Schedule: Interval{Every: time.Hour},
		OnFailure: func(_ context.Context, _ *models.CycleReport, streak int) {
			streaks = append(streaks, streak)
		},
		OnRecovery: func(_ context.Context, streak int) {
			recovered = streak
		},
	})
	ctx := context.Background()

	require.NoError(t, e.Restore(ctx, history))
	st := e.Status()
	assert.Equal(t, 2, st.ConsecutiveFailures)
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, "c4", st.LastCycle.ID)

	_, err := e.runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, streaks)

	runner.failAll = false
	_, err = e.runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, recovered)
}
