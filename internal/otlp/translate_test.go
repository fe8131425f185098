package otlp

import (
	"testing"
	"time"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

func testResource() recorder.Resource {
	return recorder.Resource{ServiceName: "git-ai", ServiceVersion: "1.2.3"}
}

func snapshotOf(t *testing.T, record func(r *recorder.Recorder)) *recorder.Snapshot {
	t.Helper()
	rec := recorder.New()
	record(rec)
	return rec.Snapshot()
}

func findMetric(t *testing.T, metrics []*metricspb.Metric, name string) *metricspb.Metric {
	t.Helper()
	for _, m := range metrics {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestTranslateCounter(t *testing.T) {
	snap := snapshotOf(t, func(r *recorder.Recorder) {
		r.Record(recorder.MetricAgentUsageCount, recorder.KindCounter, 5,
			recorder.Attrs{"model": "gpt"})
	})

	req := Translate(snap, testResource())

	if len(req.ResourceMetrics) != 1 {
		t.Fatalf("expected 1 resource metrics, got %d", len(req.ResourceMetrics))
	}
	rm := req.ResourceMetrics[0]

	var foundService bool
	for _, kv := range rm.Resource.Attributes {
		if kv.Key == "service.name" && kv.Value.GetStringValue() == "git-ai" {
			foundService = true
		}
	}
	if !foundService {
		t.Error("expected service.name resource attribute")
	}

	metrics := rm.ScopeMetrics[0].Metrics
	m := findMetric(t, metrics, recorder.MetricAgentUsageCount)

	sum := m.GetSum()
	if sum == nil {
		t.Fatal("expected sum data")
	}
	if !sum.IsMonotonic {
		t.Error("expected monotonic sum")
	}
	if sum.AggregationTemporality != metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE {
		t.Errorf("expected cumulative temporality, got %v", sum.AggregationTemporality)
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(sum.DataPoints))
	}

	dp := sum.DataPoints[0]
	if dp.GetAsInt() != 5 {
		t.Errorf("expected value 5, got %d", dp.GetAsInt())
	}
	if dp.StartTimeUnixNano != uint64(snap.Start.UnixNano()) {
		t.Error("expected start time anchored at process start")
	}
	if dp.TimeUnixNano != uint64(snap.TakenAt.UnixNano()) {
		t.Error("expected time anchored at snapshot")
	}
	if len(dp.Attributes) != 1 || dp.Attributes[0].Key != "model" {
		t.Errorf("unexpected attributes: %v", dp.Attributes)
	}
}

func TestTranslateHistogram(t *testing.T) {
	snap := snapshotOf(t, func(r *recorder.Recorder) {
		r.Record(recorder.MetricCheckpointLinesAdded, recorder.KindHistogram, 3, nil)
		r.Record(recorder.MetricCheckpointLinesAdded, recorder.KindHistogram, 120, nil)
	})

	req := Translate(snap, testResource())
	m := findMetric(t, req.ResourceMetrics[0].ScopeMetrics[0].Metrics, recorder.MetricCheckpointLinesAdded)

	hist := m.GetHistogram()
	if hist == nil {
		t.Fatal("expected histogram data")
	}
	if hist.AggregationTemporality != metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE {
		t.Errorf("expected cumulative temporality, got %v", hist.AggregationTemporality)
	}

	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("expected count 2, got %d", dp.Count)
	}
	if dp.Sum == nil || *dp.Sum != 123 {
		t.Errorf("expected sum 123, got %v", dp.Sum)
	}
	if len(dp.ExplicitBounds) != len(recorder.HistogramBounds) {
		t.Errorf("expected %d bounds, got %d", len(recorder.HistogramBounds), len(dp.ExplicitBounds))
	}
	if len(dp.BucketCounts) != len(recorder.HistogramBounds)+1 {
		t.Errorf("expected %d bucket counts, got %d", len(recorder.HistogramBounds)+1, len(dp.BucketCounts))
	}
	if dp.Min == nil || *dp.Min != 3 {
		t.Errorf("expected min 3, got %v", dp.Min)
	}
	if dp.Max == nil || *dp.Max != 120 {
		t.Errorf("expected max 120, got %v", dp.Max)
	}
}

func TestTranslateMergesDatapointsByName(t *testing.T) {
	snap := snapshotOf(t, func(r *recorder.Recorder) {
		r.Record(recorder.MetricAgentUsageCount, recorder.KindCounter, 1, recorder.Attrs{"model": "a"})
		r.Record(recorder.MetricAgentUsageCount, recorder.KindCounter, 2, recorder.Attrs{"model": "b"})
		r.Record(recorder.MetricCheckpointCount, recorder.KindCounter, 1, nil)
	})

	req := Translate(snap, testResource())
	metrics := req.ResourceMetrics[0].ScopeMetrics[0].Metrics

	if len(metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(metrics))
	}
	usage := findMetric(t, metrics, recorder.MetricAgentUsageCount)
	if got := len(usage.GetSum().DataPoints); got != 2 {
		t.Errorf("expected 2 datapoints merged under one metric, got %d", got)
	}
}

func TestTranslateEmptySnapshot(t *testing.T) {
	snap := &recorder.Snapshot{Start: time.Now(), TakenAt: time.Now()}
	req := Translate(snap, testResource())
	if got := len(req.ResourceMetrics[0].ScopeMetrics[0].Metrics); got != 0 {
		t.Errorf("expected no metrics, got %d", got)
	}
}
