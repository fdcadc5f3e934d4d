/*
reporter.go - Periodic outstanding-balance reporter

PURPOSE:
  Periodically totals the ledger, publishes the totals as prometheus
  gauges, and logs a one-line summary. Dependency checks run on the same
  tick so a lost database or Redis shows up in the logs even when no
  requests arrive.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Reports once immediately on start
  - Failures are logged, never fatal

USAGE:
  reporter := NewBalanceReporter(svc, ledgerMetrics, log)
  reporter.Start()
  // ... later
  reporter.Stop()

SEE ALSO:
  - metrics/metrics.go: Gauges this reporter feeds
  - charges/service.go: Summary
*/
package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/warp/swim-ledger/ledger"
	"github.com/warp/swim-ledger/logger"
	"github.com/warp/swim-ledger/metrics"
)

// Summarizer totals the ledger.
type Summarizer interface {
	Summary(ctx context.Context) (ledger.Summary, error)
}

// BalanceReporter refreshes balance gauges on a ticker.
type BalanceReporter struct {
	Source   Summarizer
	Metrics  *metrics.LedgerMetrics
	Log      *logger.Logger
	Interval time.Duration
	Checks   map[string]HealthCheck

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBalanceReporter creates a reporter with a one minute interval.
func NewBalanceReporter(source Summarizer, m *metrics.LedgerMetrics, log *logger.Logger) *BalanceReporter {
	if log == nil {
		log = logger.Nop()
	}
	return &BalanceReporter{
		Source:   source,
		Metrics:  m,
		Log:      log,
		Interval: time.Minute,
		Checks:   map[string]HealthCheck{},
	}
}

// Start begins reporting. A non-positive interval disables the reporter.
func (br *BalanceReporter) Start() {
	br.mu.Lock()
	defer br.mu.Unlock()

	ctx := context.Background()
	if br.Interval <= 0 {
		br.Log.Info(ctx, "reporter.disabled")
		return
	}
	if br.ticker != nil {
		return
	}

	br.ticker = time.NewTicker(br.Interval)
	br.stop = make(chan struct{})
	br.wg.Add(1)
	go br.run()

	br.Log.Info(br.Log.WithField(ctx, "interval", br.Interval.String()), "reporter.started")
}

// Stop stops the reporter and waits for an in-flight report to finish.
func (br *BalanceReporter) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.ticker == nil {
		return
	}
	br.ticker.Stop()
	close(br.stop)
	br.wg.Wait()
	br.ticker = nil
	br.Log.Info(context.Background(), "reporter.stopped")
}

func (br *BalanceReporter) run() {
	defer br.wg.Done()

	br.report()
	for {
		select {
		case <-br.ticker.C:
			br.report()
		case <-br.stop:
			return
		}
	}
}

func (br *BalanceReporter) report() {
	ctx, cancel := context.WithTimeout(context.Background(), br.timeout())
	defer cancel()

	if err := br.Refresh(ctx); err != nil {
		br.Log.Error(ctx, "reporter.failed", err)
	}
}

func (br *BalanceReporter) timeout() time.Duration {
	if br.Interval > 0 && br.Interval < 30*time.Second {
		return br.Interval
	}
	return 30 * time.Second
}

// Refresh totals the ledger once, updates the gauges and runs the checks.
// Every failure is returned, combined.
func (br *BalanceReporter) Refresh(ctx context.Context) error {
	var errs error

	s, err := br.Source.Summary(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("summarize ledger: %w", err))
	} else {
		byStatus := make(map[string]int, len(s.ByStatus))
		for status, n := range s.ByStatus {
			byStatus[string(status)] = n
		}
		br.Metrics.SetBalances(s.TotalOutstanding, byStatus)
		br.Log.Info(br.Log.WithFields(ctx, map[string]any{
			"charges":     s.Count,
			"charged":     ledger.FormatAmount(s.TotalCharged),
			"paid":        ledger.FormatAmount(s.TotalPaid),
			"outstanding": ledger.FormatAmount(s.TotalOutstanding),
			"unpaid":      byStatus[string(ledger.StatusUnpaid)],
			"partial":     byStatus[string(ledger.StatusPartial)],
		}), "ledger.balances")
	}

	names := make([]string, 0, len(br.Checks))
	for name := range br.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := br.Checks[name](ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errs
}
