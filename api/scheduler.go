/*
scheduler.go - Automated generation scheduler

PURPOSE:
  Periodically runs the transaction generator so every active obligation
  gets its due transactions without anyone calling POST /api/generate.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start, then on every tick
  - Generation is idempotent, so overlapping a manual trigger is harmless
  - Keeps the last report for status display

CONFIGURATION:
  - CheckInterval: How often to scan (default: 1 hour, SCAN_INTERVAL)
  - Enabled: Whether scheduler is active (default: true, SCHEDULER_ENABLED)

USAGE:
  scheduler := NewGenerationScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Generate endpoint (manual trigger)
  - obligation/generator.go: CheckAndGenerate
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/obligation-engine/generic"
	"github.com/warp/obligation-engine/obligation"
)

// GenerationScheduler runs generation scans on an interval.
type GenerationScheduler struct {
	Service       *obligation.Service
	CheckInterval time.Duration
	Enabled       bool
	Log           zerolog.Logger

	// Now is the scheduler clock; scans run for DateOf(Now()).
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	reportMu   sync.Mutex
	lastReport *obligation.GenerationReport
}

// NewGenerationScheduler creates a new scheduler.
func NewGenerationScheduler(svc *obligation.Service, log zerolog.Logger) *GenerationScheduler {
	return &GenerationScheduler{
		Service:       svc,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           log.With().Str("component", "scheduler").Logger(),
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the scheduler. Calling Start on a running scheduler is a no-op.
func (gs *GenerationScheduler) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if !gs.Enabled {
		gs.Log.Info().Msg("disabled, not starting")
		return
	}
	if gs.ticker != nil {
		return
	}

	gs.ticker = time.NewTicker(gs.CheckInterval)
	gs.stop = make(chan struct{})
	gs.wg.Add(1)

	go gs.run(gs.ticker, gs.stop)

	gs.Log.Info().Dur("interval", gs.CheckInterval).Msg("started")
}

// Stop stops the scheduler and waits for an in-flight scan.
func (gs *GenerationScheduler) Stop() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.ticker != nil {
		gs.ticker.Stop()
		close(gs.stop)
		gs.wg.Wait()
		gs.ticker = nil
		gs.Log.Info().Msg("stopped")
	}
}

func (gs *GenerationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer gs.wg.Done()

	// Run immediately on start
	gs.RunNow()

	for {
		select {
		case <-ticker.C:
			gs.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow triggers an immediate scan (for testing/admin).
func (gs *GenerationScheduler) RunNow() *obligation.GenerationReport {
	ctx := context.Background()
	today := generic.DateOf(gs.Now())

	gs.Log.Debug().Str("today", today.String()).Msg("checking for due obligations")

	report, err := gs.Service.CheckAndGenerate(ctx, today)
	if err != nil {
		gs.Log.Error().Err(err).Msg("generation scan failed")
		return nil
	}

	if len(report.Generated) > 0 || len(report.Failures) > 0 {
		gs.Log.Info().
			Int("generated", len(report.Generated)).
			Int("failed", len(report.Failures)).
			Msg("scan completed")
	}

	gs.reportMu.Lock()
	gs.lastReport = report
	gs.reportMu.Unlock()
	return report
}

// LastReport returns the most recent scan report, nil before the first scan.
func (gs *GenerationScheduler) LastReport() *obligation.GenerationReport {
	gs.reportMu.Lock()
	defer gs.reportMu.Unlock()
	return gs.lastReport
}

// GetNextRunTime returns when the next scheduled check will occur.
func (gs *GenerationScheduler) GetNextRunTime() time.Time {
	return gs.Now().Add(gs.CheckInterval)
}
