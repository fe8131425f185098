package uploader

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

// Batch is the JSON payload posted to the API endpoint. Every batch
// carries a unique ID so the server can deduplicate replays from the
// fallback store.
type Batch struct {
	ID      string        `json:"id"`
	Service string        `json:"service"`
	Version string        `json:"version"`
	SentAt  time.Time     `json:"sent_at"`
	Samples []BatchSample `json:"samples"`
}

// BatchSample is one metric delta within a batch. Counter samples set
// Value; histogram samples set the histogram fields instead.
type BatchSample struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`

	Value uint64 `json:"value,omitempty"`

	Count        uint64   `json:"count,omitempty"`
	Sum          uint64   `json:"sum,omitempty"`
	Bounds       []uint64 `json:"bounds,omitempty"`
	BucketCounts []uint64 `json:"bucket_counts,omitempty"`
}

// NewBatch assembles a batch from delta samples.
func NewBatch(res recorder.Resource, samples []BatchSample) Batch {
	return Batch{
		ID:      uuid.NewString(),
		Service: res.ServiceName,
		Version: res.ServiceVersion,
		SentAt:  time.Now().UTC(),
		Samples: samples,
	}
}

// Encode serializes the batch for upload.
func (b Batch) Encode() ([]byte, error) {
	return json.Marshal(b)
}
