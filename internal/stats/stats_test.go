package stats

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

var (
	testCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitai_stats_test_events_total",
		Help: "Test counter",
	})
	testGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gitai_stats_test_depth",
		Help: "Test gauge",
	})
	otherCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unrelated_events_total",
		Help: "Counter outside the module prefix",
	})
)

func init() {
	prometheus.MustRegister(testCounter)
	prometheus.MustRegister(testGauge)
	prometheus.MustRegister(otherCounter)
}

func TestSummaryTotalsOwnMetrics(t *testing.T) {
	testCounter.Add(3)
	testGauge.Set(7)
	otherCounter.Add(100)

	r := NewReporter(nil, time.Minute)
	fields := r.Summary()

	if got, ok := fields["stats_test_events_total"].(float64); !ok || got < 3 {
		t.Errorf("expected counter total >= 3, got %v", fields["stats_test_events_total"])
	}
	if got, ok := fields["stats_test_depth"].(float64); !ok || got != 7 {
		t.Errorf("expected gauge 7, got %v", fields["stats_test_depth"])
	}
	if _, ok := fields["unrelated_events_total"]; ok {
		t.Error("expected metrics outside the prefix to be excluded")
	}
}

func TestReporterStartClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := recorder.New()
	rec.Record(recorder.MetricAgentUsageCount, recorder.KindCounter, 1, nil)

	r := NewReporter(rec, 10*time.Millisecond)
	r.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	r.Close()
}

func TestReporterCloseWithoutStart(t *testing.T) {
	r := NewReporter(nil, time.Minute)
	r.Close()
}

func TestKeysSorted(t *testing.T) {
	keys := Keys(map[string]interface{}{"b": 1, "a": 2, "c": 3})
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Errorf("unexpected key order: %v", keys)
	}
}
