package monitor

import (
	"time"

	"github.com/rewired-gh/meterbot/internal/logger"
	"github.com/rewired-gh/meterbot/internal/models"
)

// Observer receives structured events from the orchestrator. Implementations
// render them to logs, metrics or anything else; they must be safe for
// concurrent use because meters are processed in parallel.
type Observer interface {
	FetchRetry(meter models.Meter, attempt int, err error)
	MeterProcessed(meter models.Meter, result models.ClassificationResult, took time.Duration)
	StateWriteFailed(meter models.Meter, err error)
	NotifyFailed(report *models.CycleReport, err error)
	HistoryFailed(report *models.CycleReport, err error)
	CycleFinished(report *models.CycleReport)
}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) FetchRetry(meter models.Meter, attempt int, err error) {
	for _, ob := range o {
		ob.FetchRetry(meter, attempt, err)
	}
}

func (o Observers) MeterProcessed(meter models.Meter, result models.ClassificationResult, took time.Duration) {
	for _, ob := range o {
		ob.MeterProcessed(meter, result, took)
	}
}

func (o Observers) StateWriteFailed(meter models.Meter, err error) {
	for _, ob := range o {
		ob.StateWriteFailed(meter, err)
	}
}

func (o Observers) NotifyFailed(report *models.CycleReport, err error) {
	for _, ob := range o {
		ob.NotifyFailed(report, err)
	}
}

func (o Observers) HistoryFailed(report *models.CycleReport, err error) {
	for _, ob := range o {
		ob.HistoryFailed(report, err)
	}
}

func (o Observers) CycleFinished(report *models.CycleReport) {
	for _, ob := range o {
		ob.CycleFinished(report)
	}
}

// LogObserver renders orchestrator events through the leveled logger.
type LogObserver struct{}

func (LogObserver) FetchRetry(meter models.Meter, attempt int, err error) {
	logger.Warn("Fetch attempt %d for meter %s failed: %v", attempt, meter.Name, err)
}

func (LogObserver) MeterProcessed(meter models.Meter, result models.ClassificationResult, took time.Duration) {
	switch {
	case result.Kind.Failed():
		logger.Error("Meter %s: %s", meter.Name, result.Summary)
	case result.Kind == models.KindAnomaly:
		logger.Warn("Meter %s: anomaly: %s", meter.Name, result.Summary)
	default:
		logger.Info("Meter %s: %s: %s", meter.Name, result.Kind, result.Summary)
	}
	logger.Debug("Meter %s processed in %v (attempts: %d)", meter.Name, took, result.Attempts)
}

func (LogObserver) StateWriteFailed(meter models.Meter, err error) {
	logger.Error("Failed to persist state for meter %s: %v", meter.Name, err)
}

func (LogObserver) NotifyFailed(report *models.CycleReport, err error) {
	logger.Error("Failed to deliver report for cycle %s: %v", report.ID, err)
}

func (LogObserver) HistoryFailed(report *models.CycleReport, err error) {
	logger.Warn("Failed to record history for cycle %s: %v", report.ID, err)
}

func (LogObserver) CycleFinished(report *models.CycleReport) {
	logger.Info("Monitoring cycle %s completed in %v: %d succeeded, %d failed, %d recharges, %d anomalies, notified=%v",
		report.ID, report.Duration(), report.Succeeded, report.Failed,
		report.Count(models.KindRecharge), report.Count(models.KindAnomaly), report.Notified)
}
