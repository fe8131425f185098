// Package stats periodically logs a summary of the pipeline's own
// Prometheus counters so operators get signal without scraping.
package stats

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/git-ai-tools/metrics-pipeline/internal/logging"
	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

// metricPrefix filters the summary to this module's own collectors.
const metricPrefix = "gitai_"

// Reporter logs pipeline self-metrics on an interval.
type Reporter struct {
	rec      *recorder.Recorder
	gatherer prometheus.Gatherer
	interval time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewReporter creates a reporter over the default Prometheus registry.
func NewReporter(rec *recorder.Recorder, interval time.Duration) *Reporter {
	return &Reporter{
		rec:      rec,
		gatherer: prometheus.DefaultGatherer,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the reporting loop.
func (r *Reporter) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-r.done:
					return
				case <-ticker.C:
					r.logSummary()
				}
			}
		}()
	})
}

// Close stops the reporting loop.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func (r *Reporter) logSummary() {
	fields := r.Summary()
	if r.rec != nil {
		fields["identities"] = r.rec.IdentityCount()
		fields["identities_estimated"] = r.rec.EstimatedIdentities()
	}
	logging.Info("pipeline stats", fields)
}

// Summary walks the registry and totals every counter and gauge under
// the module's prefix, summing across label sets.
func (r *Reporter) Summary() map[string]interface{} {
	fields := make(map[string]interface{})

	families, err := r.gatherer.Gather()
	if err != nil {
		logging.Warn("failed to gather self-metrics", logging.F("error", err.Error()))
		return fields
	}

	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, metricPrefix) {
			continue
		}

		var total float64
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
		case dto.MetricType_GAUGE:
			for _, m := range mf.GetMetric() {
				total += m.GetGauge().GetValue()
			}
		case dto.MetricType_HISTOGRAM:
			for _, m := range mf.GetMetric() {
				total += float64(m.GetHistogram().GetSampleCount())
			}
		default:
			continue
		}

		fields[strings.TrimPrefix(name, metricPrefix)] = total
	}
	return fields
}

// Keys returns the summary field names sorted, for deterministic tests.
func Keys(fields map[string]interface{}) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
