/*
scheduler.go - Periodic drift sweep

PURPOSE:
  Shipment writes that fail after their invoice or batch is persisted are
  not rolled back. The scheduler periodically runs finance.DetectDrift so
  such drift is found (and, if enabled, repaired) without operator action.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each sweep is recorded as a SweepRun for audit and UI display
  - Only one sweep runs at a time; an overlapping trigger waits

CONFIGURATION:
  - Interval: How often to sweep (SWEEP_INTERVAL, default: 1 hour)
  - Enabled:  Whether the background loop runs (SWEEP_ENABLED, default: false)
  - Repair:   Whether scheduled sweeps repair findings (SWEEP_REPAIR)

USAGE:
  scheduler := NewDriftScheduler(svc, store, log)
  scheduler.Enabled = true
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - finance/drift.go: DetectDrift
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/freight-core/finance"
)

// DriftScheduler runs drift sweeps on a ticker and on demand.
type DriftScheduler struct {
	Service  *finance.Service
	Store    finance.SweepStore
	Log      *zap.Logger
	Interval time.Duration
	Enabled  bool
	Repair   bool

	// OnReport, if set, receives every completed report (metrics hook).
	OnReport func(finance.DriftReport)

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running sync.Mutex
}

// NewDriftScheduler creates a disabled scheduler with a one hour interval.
func NewDriftScheduler(svc *finance.Service, store finance.SweepStore, log *zap.Logger) *DriftScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DriftScheduler{
		Service:  svc,
		Store:    store,
		Log:      log.Named("sweep"),
		Interval: time.Hour,
	}
}

// Start begins the background loop.
func (ds *DriftScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		ds.Log.Info("drift sweep disabled, not starting")
		return
	}
	if ds.ticker != nil {
		return
	}

	ds.stop = make(chan struct{})
	ds.ticker = time.NewTicker(ds.Interval)
	ds.wg.Add(1)
	go ds.run()

	ds.Log.Info("drift sweep started", zap.Duration("interval", ds.Interval), zap.Bool("repair", ds.Repair))
}

// Stop stops the background loop and waits for a running sweep to finish.
func (ds *DriftScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		ds.ticker.Stop()
		close(ds.stop)
		ds.wg.Wait()
		ds.ticker = nil
		ds.Log.Info("drift sweep stopped")
	}
}

func (ds *DriftScheduler) run() {
	defer ds.wg.Done()

	for {
		select {
		case <-ds.ticker.C:
			if _, _, err := ds.RunNow(context.Background(), ds.Repair); err != nil {
				ds.Log.Error("scheduled drift sweep failed", zap.Error(err))
			}
		case <-ds.stop:
			return
		}
	}
}

// RunNow runs one sweep and records it.
func (ds *DriftScheduler) RunNow(ctx context.Context, repair bool) (finance.SweepRun, finance.DriftReport, error) {
	ds.running.Lock()
	defer ds.running.Unlock()

	run := finance.SweepRun{
		ID:        uuid.NewString(),
		Status:    "running",
		Repair:    repair,
		StartedAt: time.Now().UTC(),
	}
	if err := ds.Store.SaveSweepRun(ctx, run); err != nil {
		return run, finance.DriftReport{}, err
	}

	report, err := ds.Service.DetectDrift(ctx, repair)
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		if serr := ds.Store.SaveSweepRun(ctx, run); serr != nil {
			ds.Log.Error("failed to record sweep run", zap.Error(serr))
		}
		return run, report, err
	}

	run.Status = "completed"
	run.Findings = len(report.Findings)
	run.Repaired = report.Repaired
	if err := ds.Store.SaveSweepRun(ctx, run); err != nil {
		return run, report, err
	}
	if ds.OnReport != nil {
		ds.OnReport(report)
	}

	for _, f := range report.Findings {
		ds.Log.Warn("drift",
			zap.String("kind", string(f.Kind)),
			zap.String("awb", string(f.AWB)),
			zap.String("expected", f.Expected),
			zap.String("actual", f.Actual),
			zap.Bool("repaired", f.Repaired),
		)
	}
	return run, report, nil
}
