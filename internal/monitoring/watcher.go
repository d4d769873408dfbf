package monitoring

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/config"
	"github.com/sells-group/petscan/internal/metrics"
	"github.com/sells-group/petscan/internal/model"
)

const defaultCheckInterval = 5 * time.Minute

// Watcher checks scan health on an interval: it snapshots recent scans,
// updates the monitoring gauges and posts alerts to the webhook.
type Watcher struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger

	// stuck scan ids already alerted on, joined and sorted
	lastStuck string
}

// NewWatcher creates a scan health watcher.
func NewWatcher(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Watcher {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Watcher{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "monitoring.watcher")),
	}
}

// Run checks once, then on every interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info("watching scan health",
		zap.Duration("interval", w.interval),
		zap.Int("lookback_hours", w.lookback),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			w.log.Info("scan health watcher stopped")
			return
		}
		w.Check(ctx)

		select {
		case <-ctx.Done():
			w.log.Info("scan health watcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check takes one snapshot and sends the alerts it raises. A stuck_scans
// alert for the same set of scans as the previous check is not repeated.
// It returns the number of alerts sent to the alerter.
func (w *Watcher) Check(ctx context.Context) int {
	snap, err := w.collector.Collect(ctx, w.lookback)
	if err != nil {
		w.log.Error("monitoring: collect scan snapshot", zap.Error(err))
		return 0
	}
	record(snap)

	w.log.Debug("monitoring: scan snapshot",
		zap.Int("total", snap.Total),
		zap.Int("failed", snap.Failed),
		zap.Int("extraction_failed", snap.ExtractionFailed),
		zap.Int("in_flight", snap.InFlight),
		zap.Int("stuck", snap.Stuck),
	)

	stuckKey := stuckSet(snap.StuckIDs)
	alerts := w.alerter.Evaluate(snap)
	kept := alerts[:0]
	for _, a := range alerts {
		if a.Type == AlertStuckScans && stuckKey == w.lastStuck {
			continue
		}
		kept = append(kept, a)
	}
	w.lastStuck = stuckKey

	if len(kept) == 0 {
		return 0
	}
	sent := w.alerter.SendAlerts(ctx, kept)
	w.log.Info("monitoring: scan alerts raised",
		zap.Int("alerts", len(kept)),
		zap.Int("sent", sent),
		zap.Strings("stuck_scan_ids", snap.StuckIDs),
	)
	return len(kept)
}

func record(snap *Snapshot) {
	metrics.RecentScans.WithLabelValues(string(model.ScanStatusCompleted)).Set(float64(snap.Completed))
	metrics.RecentScans.WithLabelValues(string(model.ScanStatusFailed)).Set(float64(snap.Failed))
	metrics.RecentScans.WithLabelValues(string(model.ScanStatusCancelled)).Set(float64(snap.Cancelled))
	metrics.RecentScans.WithLabelValues("in_flight").Set(float64(snap.InFlight))
	metrics.StuckScans.Set(float64(snap.Stuck))
}

func stuckSet(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
