// Package scheduler runs the periodic export loops. Each sink gets its
// own timer so a slow API flush can never delay the OTLP flush and vice
// versa.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/git-ai-tools/metrics-pipeline/internal/logging"
)

var (
	// flushesTotal tracks completed flushes per pipeline.
	flushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitai_scheduler_flushes_total",
		Help: "Total number of completed flushes per pipeline",
	}, []string{"pipeline"})

	// flushErrorsTotal tracks flushes that returned an error.
	flushErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitai_scheduler_flush_errors_total",
		Help: "Total number of failed flushes per pipeline",
	}, []string{"pipeline"})

	// flushSkippedTotal tracks ticks skipped because the previous flush
	// was still running.
	flushSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitai_scheduler_flush_skipped_total",
		Help: "Total number of ticks skipped while a flush was in flight",
	}, []string{"pipeline"})

	// flushDurationSeconds tracks flush latency per pipeline.
	flushDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gitai_scheduler_flush_duration_seconds",
		Help:    "Flush latency per pipeline",
		Buckets: prometheus.DefBuckets,
	}, []string{"pipeline"})
)

func init() {
	prometheus.MustRegister(flushesTotal)
	prometheus.MustRegister(flushErrorsTotal)
	prometheus.MustRegister(flushSkippedTotal)
	prometheus.MustRegister(flushDurationSeconds)
}

// Flusher is one export sink driven by the scheduler.
type Flusher interface {
	Flush(ctx context.Context) error
}

// DefaultGrace bounds the final flush on shutdown so a dead backend
// cannot hang process exit.
const DefaultGrace = 5 * time.Second

type pipeline struct {
	name     string
	interval time.Duration
	flusher  Flusher
	inflight atomic.Bool
}

// flush runs one guarded flush. Returns false if a previous flush is
// still in flight and the tick was skipped.
func (p *pipeline) flush(ctx context.Context) bool {
	if !p.inflight.CompareAndSwap(false, true) {
		flushSkippedTotal.WithLabelValues(p.name).Inc()
		logging.Debug("flush still in flight, skipping tick", logging.F("pipeline", p.name))
		return false
	}
	defer p.inflight.Store(false)

	start := time.Now()
	err := p.flusher.Flush(ctx)
	flushDurationSeconds.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	flushesTotal.WithLabelValues(p.name).Inc()
	if err != nil {
		flushErrorsTotal.WithLabelValues(p.name).Inc()
		logging.Warn("flush failed", logging.F("pipeline", p.name, "error", err.Error()))
	}
	return true
}

// Scheduler drives registered pipelines on independent tickers.
type Scheduler struct {
	grace     time.Duration
	pipelines []*pipeline

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. grace <= 0 uses DefaultGrace.
func New(grace time.Duration) *Scheduler {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Scheduler{grace: grace}
}

// Add registers a pipeline. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, f Flusher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("scheduler: Add after Start")
	}
	s.pipelines = append(s.pipelines, &pipeline{name: name, interval: interval, flusher: f})
}

// Start launches one ticker goroutine per pipeline. Flushes run off the
// ticker goroutine so a stuck sink drops ticks instead of queueing them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, p := range s.pipelines {
		s.wg.Add(1)
		go s.run(ctx, p)
		logging.Info("pipeline scheduled",
			logging.F("pipeline", p.name, "interval", p.interval.String()))
	}
}

func (s *Scheduler) run(ctx context.Context, p *pipeline) {
	defer s.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				p.flush(ctx)
			}()
		}
	}
}

// Close stops the tickers, waits for in-flight flushes, then runs one
// final flush per pipeline concurrently under the grace deadline so
// buffered metrics from a short-lived process still get out.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	ctx, cancelFinal := context.WithTimeout(ctx, s.grace)
	defer cancelFinal()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.pipelines {
		p := p
		g.Go(func() error {
			start := time.Now()
			err := p.flusher.Flush(ctx)
			flushDurationSeconds.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
			flushesTotal.WithLabelValues(p.name).Inc()
			if err != nil {
				flushErrorsTotal.WithLabelValues(p.name).Inc()
				logging.Warn("final flush failed",
					logging.F("pipeline", p.name, "error", err.Error()))
			}
			// Final flush errors are reported, never propagated; one
			// dead sink must not abort the others.
			return nil
		})
	}
	return g.Wait()
}
