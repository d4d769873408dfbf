// Package monitoring watches stored scan history and raises webhook alerts
// when scans fail too often or stop making progress.
package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/ocr"
	"github.com/sells-group/petscan/internal/store"
)

// scanWindowLimit caps how many recent scans one collection reads.
const scanWindowLimit = 10000

// Snapshot is a point-in-time view of scan health.
type Snapshot struct {
	Total            int      `json:"total"`
	Completed        int      `json:"completed"`
	Failed           int      `json:"failed"`
	Cancelled        int      `json:"cancelled"`
	InFlight         int      `json:"in_flight"`
	ExtractionFailed int      `json:"extraction_failed"`
	FailRate         float64  `json:"fail_rate"`
	Stuck            int      `json:"stuck"`
	StuckIDs         []string `json:"stuck_ids,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ScanLister is the store method the collector reads.
type ScanLister interface {
	ListScans(ctx context.Context, filter store.ScanFilter) ([]model.Scan, error)
}

// Collector gathers scan metrics from the store.
type Collector struct {
	store      ScanLister
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. Scans still in flight longer
// than stuckAfter are reported as stuck.
func NewCollector(st ScanLister, stuckAfter time.Duration) *Collector {
	return &Collector{store: st, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot of scans created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	scans, err := c.store.ListScans(ctx, store.ScanFilter{Limit: scanWindowLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list scans")
	}

	for _, sc := range scans {
		// Listed newest first.
		if sc.CreatedAt.Before(cutoff) {
			break
		}
		snap.Total++
		switch sc.Status {
		case model.ScanStatusCompleted:
			snap.Completed++
		case model.ScanStatusFailed:
			snap.Failed++
			if strings.HasPrefix(sc.Error, ocr.ExtractionErrorPrefix) {
				snap.ExtractionFailed++
			}
		case model.ScanStatusCancelled:
			snap.Cancelled++
		default:
			snap.InFlight++
			if c.stuckAfter > 0 && now.Sub(sc.UpdatedAt) > c.stuckAfter {
				snap.Stuck++
				snap.StuckIDs = append(snap.StuckIDs, sc.ID)
			}
		}
	}

	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	return snap, nil
}
