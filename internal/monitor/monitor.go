// Package monitor runs monitoring cycles over the meter registry.
//
// A cycle fetches a fresh snapshot for every meter, classifies it against the
// meter's stored state and persists the new state, then hands the whole cycle
// report to the notifier exactly once.
//
// Classification (see Classify) is a pure function of the previous state and the
// new snapshot:
//
//	anomaly      invalid reading, out-of-order timestamp or |delta| > sanity bound
//	consumption  delta < 0
//	recharge     delta > recharge threshold
//	no change    0 <= delta <= recharge threshold
//
// Meters are independent: a failed fetch or state write affects only that meter's
// result. Fetches are retried with linear backoff and bounded by a per-attempt timeout.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/meterbot/internal/models"
)

// Fetcher reads the current balance of a provider account.
type Fetcher interface {
	Fetch(ctx context.Context, accountRef string) (*models.Snapshot, error)
}

// Store persists per-meter state and cycle history.
// GetState returns nil, nil for a meter that has no state yet.
type Store interface {
	GetState(ctx context.Context, meterID string) (*models.StateRecord, error)
	PutState(ctx context.Context, rec *models.StateRecord) error
	RecordCycle(ctx context.Context, report *models.CycleReport) error
}

// Notifier delivers a cycle report to the user.
type Notifier interface {
	Send(ctx context.Context, report *models.CycleReport) error
}

// Options configures an Orchestrator
type Options struct {
	Rules          Rules
	FetchTimeout   time.Duration
	RetryCount     int           // Total fetch attempts per meter
	RetryDelayBase time.Duration // Delay before attempt n+1 is RetryDelayBase × n
	MaxParallel    int
}

// Orchestrator runs monitoring cycles
type Orchestrator struct {
	fetcher  Fetcher
	store    Store
	notifier Notifier
	observer Observer
	opts     Options
	now      func() time.Time
}

// New creates a new Orchestrator. A nil observer defaults to LogObserver.
func New(fetcher Fetcher, store Store, notifier Notifier, observer Observer, opts Options) *Orchestrator {
	if observer == nil {
		observer = LogObserver{}
	}
	if opts.RetryCount < 1 {
		opts.RetryCount = 1
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	return &Orchestrator{
		fetcher:  fetcher,
		store:    store,
		notifier: notifier,
		observer: observer,
		opts:     opts,
		now:      time.Now,
	}
}

// RunCycle processes every meter once and returns the cycle report.
// The only error it returns is a *models.ConfigError for an unusable meter list;
// per-meter failures are reported inside the CycleReport.
func (o *Orchestrator) RunCycle(ctx context.Context, meters []models.Meter) (*models.CycleReport, error) {
	if _, err := models.NewRegistry(meters); err != nil {
		return nil, err
	}

	report := &models.CycleReport{
		ID:        uuid.New().String(),
		StartedAt: o.now(),
		Results:   make([]models.ClassificationResult, len(meters)),
	}

	var g errgroup.Group
	g.SetLimit(o.opts.MaxParallel)
	for i, meter := range meters {
		g.Go(func() error {
			start := time.Now()
			res := o.processMeter(ctx, meter)
			report.Results[i] = res
			o.observer.MeterProcessed(meter, res, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	report.Tally()
	report.FinishedAt = o.now()

	if err := o.notifier.Send(ctx, report); err != nil {
		report.NotifyError = err.Error()
		o.observer.NotifyFailed(report, err)
	} else {
		report.Notified = true
	}

	// History is best effort; a failure here must not hide the report
	if err := o.store.RecordCycle(context.WithoutCancel(ctx), report); err != nil {
		o.observer.HistoryFailed(report, err)
	}

	o.observer.CycleFinished(report)
	return report, nil
}

// processMeter evaluates one meter. It never returns an error: every failure
// becomes part of the result.
func (o *Orchestrator) processMeter(ctx context.Context, meter models.Meter) models.ClassificationResult {
	prev, err := o.store.GetState(ctx, meter.ID)
	if err != nil {
		perr := &models.PersistenceError{MeterID: meter.ID, Op: "read", Err: err}
		return models.ClassificationResult{
			MeterID:   meter.ID,
			MeterName: meter.Name,
			Kind:      models.KindStoreFailed,
			Summary:   "Previous state unavailable; meter skipped",
			Error:     perr.Error(),
			Note:      "state not updated",
		}
	}

	snap, attempts, err := o.fetchWithRetry(ctx, meter)
	if err != nil {
		res := models.ClassificationResult{
			MeterID:   meter.ID,
			MeterName: meter.Name,
			Kind:      models.KindFetchFailed,
			Attempts:  attempts,
			Error:     err.Error(),
			ErrorKind: string(fetchErrorKind(err)),
			Summary:   fmt.Sprintf("Fetch failed after %d attempt(s): %v", attempts, err),
			Note:      "state not updated",
		}
		if prev != nil {
			res.HasPrevious = true
			res.Previous = prev.Balance
			res.Current = prev.Balance
		}
		return res
	}

	res := Classify(prev, snap, o.opts.Rules)
	res.MeterName = meter.Name
	res.Attempts = attempts

	next, ok := NextState(prev, snap, res)
	if !ok {
		res.Note = "nothing to persist"
		return res
	}
	if err := o.store.PutState(context.WithoutCancel(ctx), &next); err != nil {
		perr := &models.PersistenceError{MeterID: meter.ID, Op: "write", Err: err}
		o.observer.StateWriteFailed(meter, perr)
		res.Error = perr.Error()
		res.Note = "state not updated; next cycle compares against the previous record"
		return res
	}
	res.StateUpdated = true
	return res
}

// fetchWithRetry fetches a snapshot, retrying up to RetryCount attempts with
// linear backoff. Each attempt is bounded by FetchTimeout.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, meter models.Meter) (*models.Snapshot, int, error) {
	var lastErr error
	for attempt := 1; attempt <= o.opts.RetryCount; attempt++ {
		snap, err := o.fetchOnce(ctx, meter)
		if err == nil {
			return snap, attempt, nil
		}
		lastErr = err

		if attempt == o.opts.RetryCount {
			return nil, attempt, lastErr
		}
		o.observer.FetchRetry(meter, attempt, err)

		select {
		case <-ctx.Done():
			return nil, attempt, lastErr
		case <-time.After(o.opts.RetryDelayBase * time.Duration(attempt)):
		}
	}
	return nil, o.opts.RetryCount, lastErr
}

func (o *Orchestrator) fetchOnce(ctx context.Context, meter models.Meter) (*models.Snapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()

	snap, err := o.fetcher.Fetch(fctx, meter.AccountRef)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded) {
			var fe *models.FetchError
			if !errors.As(err, &fe) {
				err = &models.FetchError{Kind: models.FetchTimeout, Err: err}
			}
		}
		return nil, err
	}
	if snap == nil {
		return nil, &models.FetchError{Kind: models.FetchParse, Err: errors.New("empty snapshot")}
	}

	out := *snap
	out.MeterID = meter.ID
	if out.ObservedAt.IsZero() {
		out.ObservedAt = o.now()
	}
	return &out, nil
}

func fetchErrorKind(err error) models.FetchErrorKind {
	var fe *models.FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.FetchTimeout
	}
	return models.FetchNetwork
}
