// Package metrics exposes prometheus instruments for the charge ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// LedgerMetrics records ledger commands and balances.
// A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	commands           *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	paymentsAmount     prometheus.Counter
	chargesByStatus    *prometheus.GaugeVec
	outstanding        prometheus.Gauge
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commands_total",
		Help: "Committed ledger commands by operation and amendment path.",
	}, []string{"operation", "path"})
	validationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_validation_failures_total",
		Help: "Rejected ledger commands by operation.",
	}, []string{"operation"})
	paymentsAmount := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_payments_amount_total",
		Help: "Sum of recorded incremental payments.",
	})
	chargesByStatus := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_charges",
		Help: "Charges currently held, by payment status.",
	}, []string{"status"})
	outstanding := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_outstanding_amount",
		Help: "Sum of unpaid balances across all charges.",
	})
	reg.MustRegister(commands, validationFailures, paymentsAmount, chargesByStatus, outstanding)
	return &LedgerMetrics{
		commands:           commands,
		validationFailures: validationFailures,
		paymentsAmount:     paymentsAmount,
		chargesByStatus:    chargesByStatus,
		outstanding:        outstanding,
	}
}

// IncCommand counts a committed command.
func (m *LedgerMetrics) IncCommand(operation, path string) {
	if m == nil || m.commands == nil {
		return
	}
	m.commands.WithLabelValues(operation, normalizeLabel(path)).Inc()
}

// IncValidationFailure counts a rejected command.
func (m *LedgerMetrics) IncValidationFailure(operation string) {
	if m == nil || m.validationFailures == nil {
		return
	}
	m.validationFailures.WithLabelValues(operation).Inc()
}

// AddPayment adds a recorded payment amount.
func (m *LedgerMetrics) AddPayment(amount decimal.Decimal) {
	if m == nil || m.paymentsAmount == nil {
		return
	}
	m.paymentsAmount.Add(amount.InexactFloat64())
}

// SetBalances publishes the current outstanding total and per-status counts.
func (m *LedgerMetrics) SetBalances(outstanding decimal.Decimal, byStatus map[string]int) {
	if m == nil || m.outstanding == nil {
		return
	}
	m.outstanding.Set(outstanding.InexactFloat64())
	for status, n := range byStatus {
		m.chargesByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
