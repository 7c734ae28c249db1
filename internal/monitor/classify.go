package monitor

import (
	"fmt"
	"time"

	"github.com/rewired-gh/meterbot/internal/models"
)

// Rules holds the classification thresholds, in the smallest currency unit.
type Rules struct {
	// RechargeThreshold: balance increases up to and including this value are
	// treated as rounding or provider corrections, not top-ups.
	RechargeThreshold models.Amount
	// SanityBound: a balance change larger than this in either direction is an
	// anomaly. Zero disables the check.
	SanityBound models.Amount
}

// Classify compares a new snapshot against the previous state of the same meter.
// It is a pure function of its inputs; prev may be nil for a meter never seen before.
func Classify(prev *models.StateRecord, cur *models.Snapshot, rules Rules) models.ClassificationResult {
	res := models.ClassificationResult{
		MeterID:    cur.MeterID,
		Current:    cur.Balance,
		Usage:      cur.Usage,
		ObservedAt: cur.Timestamp(),
	}

	if err := cur.Validate(); err != nil {
		res.Kind = models.KindAnomaly
		res.Summary = fmt.Sprintf("Inconsistent reading ignored: %v", err)
		if prev != nil {
			res.HasPrevious = true
			res.Previous = prev.Balance
			res.Delta = cur.Balance - prev.Balance
		}
		return res
	}

	if prev == nil {
		res.Kind = models.KindInitial
		res.Summary = fmt.Sprintf("First reading: balance %s", cur.Balance)
		return res
	}

	res.HasPrevious = true
	res.Previous = prev.Balance
	delta := cur.Balance - prev.Balance
	// Anomalies keep the rejected delta for display; it never becomes a baseline
	res.Delta = delta

	if curAt, prevAt := comparableTimes(prev, cur); curAt.Before(prevAt) {
		res.Kind = models.KindAnomaly
		res.Summary = fmt.Sprintf("Out-of-order reading from %s (last accepted %s); balance %s ignored",
			curAt.Format("2006-01-02 15:04"), prevAt.Format("2006-01-02 15:04"), cur.Balance)
		return res
	}

	if rules.SanityBound > 0 && delta.Abs() > rules.SanityBound {
		res.Kind = models.KindAnomaly
		res.Summary = fmt.Sprintf("Implausible change %s (%s → %s) ignored", delta.Signed(), prev.Balance, cur.Balance)
		return res
	}

	switch {
	case delta < 0:
		res.Kind = models.KindConsumption
		res.Summary = fmt.Sprintf("Used %s, balance %s", (-delta).String(), cur.Balance)
	case delta > rules.RechargeThreshold:
		res.Kind = models.KindRecharge
		res.Summary = fmt.Sprintf("Recharged %s, balance %s", delta, cur.Balance)
	case delta > 0:
		res.Kind = models.KindNoChange
		res.Summary = fmt.Sprintf("Balance %s (%s within tolerance)", cur.Balance, delta.Signed())
	default:
		res.Kind = models.KindNoChange
		res.Summary = fmt.Sprintf("Balance unchanged at %s", cur.Balance)
	}
	return res
}

// comparableTimes picks timestamps from the same clock: the portal reading
// times when both sides carry one, the fetch times otherwise.
func comparableTimes(prev *models.StateRecord, cur *models.Snapshot) (curAt, prevAt time.Time) {
	if !cur.SourceTime.IsZero() && !prev.SourceTime.IsZero() {
		return cur.SourceTime, prev.SourceTime
	}
	return cur.ObservedAt, prev.ObservedAt
}

// NextState computes the record to persist after classifying cur against prev.
// An anomaly keeps the previous balance, usage and observation time so bad data
// never becomes the baseline; only the attempt is recorded. ok is false when
// there is nothing to persist (an anomalous first reading).
func NextState(prev *models.StateRecord, cur *models.Snapshot, res models.ClassificationResult) (next models.StateRecord, ok bool) {
	if res.Kind == models.KindAnomaly {
		if prev == nil {
			return models.StateRecord{}, false
		}
		next = *prev
		next.AttemptedAt = cur.ObservedAt
		next.LastKind = models.KindAnomaly
		return next, true
	}

	return models.StateRecord{
		MeterID:     cur.MeterID,
		Balance:     cur.Balance,
		Usage:       cur.Usage,
		ObservedAt:  cur.ObservedAt,
		SourceTime:  cur.SourceTime,
		AttemptedAt: cur.ObservedAt,
		LastKind:    res.Kind,
	}, true
}
