package otlp

import (
	"sort"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

// Translate converts a snapshot into one OTLP export request. Counters
// become cumulative monotonic sums and histograms cumulative histograms,
// both anchored at the process start time, so re-exporting the same
// snapshot is idempotent for the collector.
func Translate(snap *recorder.Snapshot, res recorder.Resource) *colmetricspb.ExportMetricsServiceRequest {
	startNano := uint64(snap.Start.UnixNano())
	timeNano := uint64(snap.TakenAt.UnixNano())

	// Samples with the same name but different attributes merge into
	// one metric with multiple datapoints. Snapshot order is
	// deterministic, so the output is too.
	byName := make(map[string]*metricspb.Metric)
	var order []string

	for _, s := range snap.Samples {
		m, ok := byName[s.Name]
		if !ok {
			m = &metricspb.Metric{Name: s.Name}
			switch s.Kind {
			case recorder.KindCounter:
				m.Data = &metricspb.Metric_Sum{Sum: &metricspb.Sum{
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
					IsMonotonic:            true,
				}}
			case recorder.KindHistogram:
				m.Data = &metricspb.Metric_Histogram{Histogram: &metricspb.Histogram{
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
				}}
			}
			byName[s.Name] = m
			order = append(order, s.Name)
		}

		attrs := keyValues(s.Attrs)
		switch s.Kind {
		case recorder.KindCounter:
			sum := m.GetSum()
			sum.DataPoints = append(sum.DataPoints, &metricspb.NumberDataPoint{
				Attributes:        attrs,
				StartTimeUnixNano: startNano,
				TimeUnixNano:      timeNano,
				Value:             &metricspb.NumberDataPoint_AsInt{AsInt: int64(s.Value)},
			})
		case recorder.KindHistogram:
			if s.Histogram == nil {
				continue
			}
			hist := m.GetHistogram()
			hist.DataPoints = append(hist.DataPoints, histogramDataPoint(s.Histogram, attrs, startNano, timeNano))
		}
	}

	metrics := make([]*metricspb.Metric, 0, len(order))
	for _, name := range order {
		metrics = append(metrics, byName[name])
	}

	return &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: &resourcepb.Resource{
				Attributes: keyValues(res.Map()),
			},
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Scope: &commonpb.InstrumentationScope{
					Name:    res.ServiceName,
					Version: res.ServiceVersion,
				},
				Metrics: metrics,
			}},
		}},
	}
}

func histogramDataPoint(h *recorder.Histogram, attrs []*commonpb.KeyValue, startNano, timeNano uint64) *metricspb.HistogramDataPoint {
	bounds := make([]float64, len(recorder.HistogramBounds))
	for i, b := range recorder.HistogramBounds {
		bounds[i] = float64(b)
	}

	sum := float64(h.Sum)
	dp := &metricspb.HistogramDataPoint{
		Attributes:        attrs,
		StartTimeUnixNano: startNano,
		TimeUnixNano:      timeNano,
		Count:             h.Count,
		Sum:               &sum,
		ExplicitBounds:    bounds,
		BucketCounts:      append([]uint64(nil), h.BucketCounts...),
	}
	if h.Count > 0 {
		minVal := float64(h.Min)
		maxVal := float64(h.Max)
		dp.Min = &minVal
		dp.Max = &maxVal
	}
	return dp
}

// keyValues converts attributes sorted by key. recorder.Attrs iteration
// order is random, so sort for stable output.
func keyValues(attrs map[string]string) []*commonpb.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]*commonpb.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, &commonpb.KeyValue{
			Key: k,
			Value: &commonpb.AnyValue{
				Value: &commonpb.AnyValue_StringValue{StringValue: attrs[k]},
			},
		})
	}
	return kvs
}
