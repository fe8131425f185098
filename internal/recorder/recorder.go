// Package recorder holds the in-process metric aggregates for git-ai
// usage events. Recording is memory-only and never fails; sinks consume
// point-in-time snapshots.
package recorder

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/git-ai-tools/metrics-pipeline/internal/cardinality"
	"github.com/git-ai-tools/metrics-pipeline/internal/logging"
)

// Kind distinguishes counter and histogram aggregates.
type Kind int

const (
	// KindCounter is a monotonically accumulated sum.
	KindCounter Kind = iota
	// KindHistogram retains pre-aggregated bucket counts.
	KindHistogram
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	if k == KindHistogram {
		return "histogram"
	}
	return "counter"
}

// Metric names. The prefix matches the tool's exported identity set.
const (
	MetricPrefix = "git_ai."

	MetricCommittedHumanAdditions = MetricPrefix + "committed.human_additions"
	MetricCommittedAIAdditions    = MetricPrefix + "committed.ai_additions"
	MetricCommittedDiffAdded      = MetricPrefix + "committed.diff_added"
	MetricCommittedDiffDeleted    = MetricPrefix + "committed.diff_deleted"
	MetricCommittedAIAccepted     = MetricPrefix + "committed.ai_accepted"
	MetricAgentUsageCount         = MetricPrefix + "agent_usage.count"
	MetricCheckpointCount         = MetricPrefix + "checkpoint.count"
	MetricCheckpointLinesAdded    = MetricPrefix + "checkpoint.lines_added"
	MetricCheckpointLinesDeleted  = MetricPrefix + "checkpoint.lines_deleted"
)

// HistogramBounds are the fixed line-count bucket upper bounds shared by
// every histogram metric.
var HistogramBounds = []uint64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

// Attrs is a per-event attribute set. Absent attributes are omitted,
// never recorded as empty strings.
type Attrs map[string]string

// Histogram is the pre-aggregated state of a histogram identity.
// BucketCounts has len(HistogramBounds)+1 entries; the last bucket is
// the overflow bucket.
type Histogram struct {
	Count        uint64
	Sum          uint64
	Min          uint64
	Max          uint64
	BucketCounts []uint64
}

// Sample is one aggregate in a snapshot. Value carries the cumulative
// counter sum; Histogram is set for histogram kinds instead.
type Sample struct {
	Name      string
	Kind      Kind
	Attrs     Attrs
	Value     uint64
	Histogram *Histogram
}

// Identity returns the merge key of the sample.
func (s Sample) Identity() string {
	return identityKey(s.Name, s.Attrs)
}

// Snapshot is an immutable copy of recorder state.
type Snapshot struct {
	// Start is the process start time; counters are cumulative since Start.
	Start time.Time
	// TakenAt is when the snapshot was captured.
	TakenAt time.Time
	// Samples are sorted by identity for deterministic output.
	Samples []Sample
}

// DefaultMaxIdentities bounds the aggregate map. Past the limit new
// attribute sets fold into a name-only aggregate so prompt_id or
// commit_sha churn cannot grow memory without bound.
const DefaultMaxIdentities = 4096

type aggregate struct {
	name  string
	kind  Kind
	attrs Attrs
	sum   uint64
	hist  *Histogram
}

// Recorder aggregates samples by (name, attribute set) identity.
type Recorder struct {
	mu             sync.Mutex
	start          time.Time
	aggregates     map[string]*aggregate
	maxIdentities  int
	overflowWarned map[string]struct{}

	// offered tracks every identity ever presented, including folded
	// ones, in bounded memory.
	offered  *cardinality.BloomTracker
	estimate *cardinality.HLLTracker
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMaxIdentities overrides the identity limit.
func WithMaxIdentities(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.maxIdentities = n
		}
	}
}

// New creates an empty Recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		start:          time.Now(),
		aggregates:     make(map[string]*aggregate),
		maxIdentities:  DefaultMaxIdentities,
		overflowWarned: make(map[string]struct{}),
		offered:        cardinality.NewBloomTracker(4*DefaultMaxIdentities, 0.01),
		estimate:       cardinality.NewHLLTracker(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start returns the process-lifetime start time of the recorder.
func (r *Recorder) Start() time.Time {
	return r.start
}

// Record merges delta into the aggregate identified by (name, attrs).
// Counters sum; histograms observe delta as one measurement. Never
// blocks on I/O and never fails.
func (r *Recorder) Record(name string, kind Kind, delta uint64, attrs Attrs) {
	attrs = pruneEmpty(attrs)
	key := identityKey(name, attrs)

	r.mu.Lock()
	agg, ok := r.aggregates[key]
	if !ok {
		r.offered.Add([]byte(key))
		r.estimate.Add([]byte(key))
		if len(r.aggregates) >= r.maxIdentities {
			// Fold into the name-only aggregate instead of growing.
			key = identityKey(name, nil)
			if agg, ok = r.aggregates[key]; !ok {
				agg = newAggregate(name, kind, nil)
				r.aggregates[key] = agg
			}
			r.warnOverflowLocked(name)
		} else {
			agg = newAggregate(name, kind, attrs)
			r.aggregates[key] = agg
		}
	}
	agg.merge(kind, delta)
	r.mu.Unlock()
}

func newAggregate(name string, kind Kind, attrs Attrs) *aggregate {
	agg := &aggregate{name: name, kind: kind, attrs: attrs}
	if kind == KindHistogram {
		agg.hist = &Histogram{BucketCounts: make([]uint64, len(HistogramBounds)+1)}
	}
	return agg
}

func (a *aggregate) merge(kind Kind, delta uint64) {
	if kind != a.kind {
		// Identity collision across kinds is a programming error in the
		// event mapping; count under the original kind rather than panic.
		kind = a.kind
	}
	if kind == KindCounter {
		a.sum += delta
		return
	}
	h := a.hist
	h.Count++
	h.Sum += delta
	if h.Count == 1 || delta < h.Min {
		h.Min = delta
	}
	if delta > h.Max {
		h.Max = delta
	}
	h.BucketCounts[bucketIndex(delta)]++
}

func bucketIndex(v uint64) int {
	return sort.Search(len(HistogramBounds), func(i int) bool {
		return v <= HistogramBounds[i]
	})
}

func (r *Recorder) warnOverflowLocked(name string) {
	if _, done := r.overflowWarned[name]; done {
		return
	}
	r.overflowWarned[name] = struct{}{}
	logging.Warn("metric identity limit reached, folding new attribute sets", logging.F(
		"metric", name,
		"limit", r.maxIdentities,
	))
}

// Snapshot returns a deep copy of the current aggregate state without
// resetting it. Counters remain cumulative for the process lifetime.
func (r *Recorder) Snapshot() *Snapshot {
	r.mu.Lock()
	samples := make([]Sample, 0, len(r.aggregates))
	for _, agg := range r.aggregates {
		s := Sample{
			Name:  agg.name,
			Kind:  agg.kind,
			Attrs: cloneAttrs(agg.attrs),
			Value: agg.sum,
		}
		if agg.hist != nil {
			s.Histogram = &Histogram{
				Count:        agg.hist.Count,
				Sum:          agg.hist.Sum,
				Min:          agg.hist.Min,
				Max:          agg.hist.Max,
				BucketCounts: append([]uint64(nil), agg.hist.BucketCounts...),
			}
		}
		samples = append(samples, s)
	}
	start := r.start
	r.mu.Unlock()

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Identity() < samples[j].Identity()
	})
	return &Snapshot{Start: start, TakenAt: time.Now(), Samples: samples}
}

// IdentityCount returns the exact number of live aggregate identities.
func (r *Recorder) IdentityCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.aggregates)
}

// OfferedIdentities returns the number of distinct identities ever
// presented, including ones folded by the cardinality guard.
func (r *Recorder) OfferedIdentities() int64 {
	return r.offered.Count()
}

// EstimatedIdentities returns the HyperLogLog estimate of distinct
// identities ever presented.
func (r *Recorder) EstimatedIdentities() int64 {
	return r.estimate.Count()
}

// identityKey builds the merge key: name plus attributes sorted by key.
func identityKey(name string, attrs Attrs) string {
	if len(attrs) == 0 {
		return name
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte(0x1f)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
	}
	return b.String()
}

func pruneEmpty(attrs Attrs) Attrs {
	if len(attrs) == 0 {
		return nil
	}
	out := make(Attrs, len(attrs))
	for k, v := range attrs {
		if v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneAttrs(attrs Attrs) Attrs {
	if len(attrs) == 0 {
		return nil
	}
	out := make(Attrs, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
