package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PosMetrics records settlement and stock activity for the POS terminals.
type PosMetrics struct {
	paymentsAccepted  *prometheus.CounterVec
	paymentsRejected  *prometheus.CounterVec
	ordersSettled     prometheus.Counter
	reconcileFailures *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	imageIterations   prometheus.Histogram
}

// NewPosMetrics registers the POS metrics on the provided registerer.
func NewPosMetrics(reg prometheus.Registerer) *PosMetrics {
	if reg == nil {
		return &PosMetrics{}
	}
	accepted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payments_accepted_total",
		Help: "Payments recorded against an order.",
	}, []string{"method"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payments_rejected_total",
		Help: "Payment attempts refused before recording.",
	}, []string{"reason"})
	settled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_orders_settled_total",
		Help: "Orders that reached the paid state.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stock_reconcile_failures_total",
		Help: "Stock decrements that could not be applied.",
	}, []string{"kind"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_stock_reconcile_duration_seconds",
		Help:    "Duration of stock reconciliation passes in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	iterations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_image_preprocess_iterations",
		Help:    "Encode passes needed to fit an image under the upload budget.",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
	})
	reg.MustRegister(accepted, rejected, settled, failures, duration, iterations)
	return &PosMetrics{
		paymentsAccepted:  accepted,
		paymentsRejected:  rejected,
		ordersSettled:     settled,
		reconcileFailures: failures,
		reconcileDuration: duration,
		imageIterations:   iterations,
	}
}

// IncPaymentAccepted counts a recorded payment for method.
func (m *PosMetrics) IncPaymentAccepted(method string) {
	if m == nil || m.paymentsAccepted == nil {
		return
	}
	m.paymentsAccepted.WithLabelValues(normalizeLabel(method)).Inc()
}

// IncPaymentRejected counts a refused payment attempt.
func (m *PosMetrics) IncPaymentRejected(reason string) {
	if m == nil || m.paymentsRejected == nil {
		return
	}
	m.paymentsRejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncOrderSettled counts an order that became paid.
func (m *PosMetrics) IncOrderSettled() {
	if m == nil || m.ordersSettled == nil {
		return
	}
	m.ordersSettled.Inc()
}

// IncReconcileFailure counts a failed decrement for the given line kind.
func (m *PosMetrics) IncReconcileFailure(kind string) {
	if m == nil || m.reconcileFailures == nil {
		return
	}
	m.reconcileFailures.WithLabelValues(normalizeLabel(kind)).Inc()
}

// ObserveReconcileDuration records how long one reconciliation pass took.
func (m *PosMetrics) ObserveReconcileDuration(d time.Duration) {
	if m == nil || m.reconcileDuration == nil {
		return
	}
	m.reconcileDuration.Observe(d.Seconds())
}

// ObserveImageIterations records the encode passes of one preprocess call.
func (m *PosMetrics) ObserveImageIterations(n int) {
	if m == nil || m.imageIterations == nil {
		return
	}
	m.imageIterations.Observe(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
