package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPosMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPosMetrics(reg)

	m.IncPaymentAccepted("cash")
	m.IncPaymentAccepted("cash")
	m.IncPaymentRejected("insufficient_cash")
	m.IncOrderSettled()
	m.IncReconcileFailure("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "pos_payments_accepted_total", "method", "cash"); err != nil {
		t.Fatalf("fetch accepted: %v", err)
	} else if got != 2 {
		t.Fatalf("expected accepted=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "pos_payments_rejected_total", "reason", "insufficient_cash"); err != nil {
		t.Fatalf("fetch rejected: %v", err)
	} else if got != 1 {
		t.Fatalf("expected rejected=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "pos_stock_reconcile_failures_total", "kind", "unknown"); err != nil {
		t.Fatalf("fetch failures: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failures=1, got %f", got)
	}

	mf := findMetricFamily(mfs, "pos_orders_settled_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected one settled order")
	}
}

func TestPosMetricsExportsHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPosMetrics(reg)

	m.ObserveImageIterations(3)
	m.ObserveReconcileDuration(150 * time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	iter := findMetricFamily(mfs, "pos_image_preprocess_iterations")
	if iter == nil {
		t.Fatal("iterations histogram missing")
	}
	if got := iter.GetMetric()[0].GetHistogram().GetSampleSum(); got != 3 {
		t.Fatalf("expected iteration sum 3, got %f", got)
	}

	dur := findMetricFamily(mfs, "pos_stock_reconcile_duration_seconds")
	if dur == nil || dur.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatal("expected reconcile duration sum > 0")
	}
}

func TestNilPosMetricsIsSafe(t *testing.T) {
	var m *PosMetrics
	m.IncPaymentAccepted("cash")
	m.IncPaymentRejected("x")
	m.IncOrderSettled()
	m.IncReconcileFailure("color")
	m.ObserveImageIterations(1)
	m.ObserveReconcileDuration(time.Second)

	empty := NewPosMetrics(nil)
	empty.IncOrderSettled()
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
