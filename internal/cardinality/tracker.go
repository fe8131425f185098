// Package cardinality tracks the number of distinct metric identities
// (name plus attribute set) in bounded memory. Attributes such as
// prompt_id or commit_sha are unbounded in principle, so the recorder
// uses a tracker to detect runaway attribute cardinality.
package cardinality

import (
	"sync"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"
)

// Tracker answers "have I seen this identity" and "roughly how many
// distinct identities exist" without retaining the identities themselves.
type Tracker interface {
	// Add tests membership and records the identity if new.
	// Returns true if the identity was not seen before.
	Add(key []byte) bool

	// Count returns the number of distinct identities seen.
	Count() int64

	// Reset clears the tracker.
	Reset()
}

// BloomTracker tracks membership with a Bloom filter and a manual counter.
// Due to false positives Add may miss a truly new identity about
// FalsePositiveRate of the time, which only ever undercounts.
type BloomTracker struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	count  int64

	expectedItems     uint
	falsePositiveRate float64
}

// NewBloomTracker creates a Bloom-filter tracker sized for the expected
// number of identities.
func NewBloomTracker(expectedItems uint, falsePositiveRate float64) *BloomTracker {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	return &BloomTracker{
		filter:            bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}
}

// Add tests membership and records the identity if new.
func (t *BloomTracker) Add(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filter.Test(key) {
		return false
	}
	t.filter.Add(key)
	t.count++
	return true
}

// Count returns the number of distinct identities seen.
func (t *BloomTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Reset clears the filter and counter.
func (t *BloomTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filter = bloom.NewWithEstimates(t.expectedItems, t.falsePositiveRate)
	t.count = 0
}

// HLLTracker estimates cardinality with a HyperLogLog sketch in ~12KB
// regardless of volume. It cannot answer membership, so Add always
// reports the identity as new.
type HLLTracker struct {
	mu     sync.Mutex
	sketch *hyperloglog.Sketch
}

// NewHLLTracker creates a HyperLogLog-based tracker.
func NewHLLTracker() *HLLTracker {
	return &HLLTracker{sketch: hyperloglog.New()}
}

// Add inserts the identity into the sketch. Always returns true since
// HLL has no membership test.
func (t *HLLTracker) Add(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sketch.Insert(key)
	return true
}

// Count returns the estimated number of distinct identities.
// Full Lock because Estimate() may mutate internal state (sparse to dense).
func (t *HLLTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(t.sketch.Estimate())
}

// Reset clears the sketch.
func (t *HLLTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sketch = hyperloglog.New()
}
