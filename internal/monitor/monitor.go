// Package monitor periodically checks the active ordering and reports drift.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onejob/onejob/internal/audit"
	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = time.Minute

// Checker inspects the active ordering without changing it.
type Checker interface {
	CheckRanks(ctx context.Context) (models.DensityReport, error)
}

// Monitor runs a rank check on a fixed interval. It never repairs; a
// violation is logged at error level and recorded in the audit log.
type Monitor struct {
	checker  Checker
	audit    *audit.Recorder
	log      *log.Logger
	interval time.Duration

	mu      sync.Mutex
	last    models.DensityReport
	hasLast bool
	failing bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. A nil recorder disables audit entries.
func New(checker Checker, rec *audit.Recorder, logger *log.Logger, interval time.Duration) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		checker:  checker,
		audit:    rec,
		log:      logger.WithPrefix("monitor"),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the check loop. The first check runs immediately.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	m.log.Info("rank monitor started", "interval", m.interval)
}

// Stop cancels the loop and waits for an in-flight check to finish.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("rank monitor stopped")
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	m.CheckOnce(m.ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(m.ctx)
		}
	}
}

// CheckOnce runs a single check and stores its report.
func (m *Monitor) CheckOnce(ctx context.Context) (models.DensityReport, error) {
	report, err := m.checker.CheckRanks(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn("rank check failed", "err", err)
		}
		return report, err
	}

	m.mu.Lock()
	wasFailing := m.failing
	m.last, m.hasLast = report, true
	m.failing = !report.OK
	m.mu.Unlock()

	if report.OK {
		if wasFailing {
			m.log.Info("active ranks dense again", "active", report.Active)
		}
		return report, nil
	}

	verr := ranking.ReportError(report)
	m.log.Error("rank invariant violated", "active", report.Active, "err", verr)
	// Record only the transition into a failing state.
	if m.audit != nil && !wasFailing {
		m.audit.RecordResult(ctx, audit.ActionRanksCheck, report, "", verr)
	}
	return report, nil
}

// Last returns the most recent report, if any check has completed.
func (m *Monitor) Last() (models.DensityReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}
