// Package reporting aggregates receivables. It serves the dashboard and
// analytics summaries and periodically exports the same totals as gauges to
// an external Prometheus-compatible store.
package reporting

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Snapshot owns a private registry so pushes carry only receivables data.
type Snapshot struct {
	db       *gorm.DB
	registry *prometheus.Registry

	invoices       *prometheus.GaugeVec
	invoiceAmount  *prometheus.GaugeVec
	payments       *prometheus.GaugeVec
	paymentsAmount *prometheus.GaugeVec
}

func NewSnapshot(db *gorm.DB) *Snapshot {
	s := &Snapshot{
		db:       db,
		registry: prometheus.NewRegistry(),
		invoices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "invoicer_invoices",
			Help: "Non-archived invoices by status and currency.",
		}, []string{"status", "currency"}),
		invoiceAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "invoicer_invoice_amount",
			Help: "Sum of amount due (total plus tax) of non-archived invoices.",
		}, []string{"status", "currency"}),
		payments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "invoicer_payments",
			Help: "Completed payments by gateway.",
		}, []string{"gateway"}),
		paymentsAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "invoicer_payment_amount",
			Help: "Sum of completed payment amounts by gateway.",
		}, []string{"gateway"}),
	}
	s.registry.MustRegister(s.invoices, s.invoiceAmount, s.payments, s.paymentsAmount)
	return s
}

func (s *Snapshot) Registry() *prometheus.Registry {
	return s.registry
}

// Refresh replaces every gauge with current database totals. Label sets that
// vanished since the last refresh are dropped.
func (s *Snapshot) Refresh(ctx context.Context) error {
	invoices, err := invoiceTotals(ctx, s.db)
	if err != nil {
		return err
	}
	payments, err := paymentTotals(ctx, s.db)
	if err != nil {
		return err
	}

	s.invoices.Reset()
	s.invoiceAmount.Reset()
	for _, row := range invoices {
		s.invoices.WithLabelValues(row.Status, row.Currency).Set(float64(row.Count))
		s.invoiceAmount.WithLabelValues(row.Status, row.Currency).Set(row.Amount.InexactFloat64())
	}

	s.payments.Reset()
	s.paymentsAmount.Reset()
	for _, row := range payments {
		s.payments.WithLabelValues(row.Gateway).Set(float64(row.Count))
		s.paymentsAmount.WithLabelValues(row.Gateway).Set(row.Amount.InexactFloat64())
	}
	return nil
}
