package uploader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/git-ai-tools/metrics-pipeline/internal/fallback"
	"github.com/git-ai-tools/metrics-pipeline/internal/logging"
	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

// DefaultDrainLimit bounds how many persisted batches one flush replays
// so a large backlog cannot stall the live export.
const DefaultDrainLimit = 16

// ackedState is the last-acknowledged cumulative value of one identity.
// A batch is acknowledged when it was delivered or durably persisted.
type ackedState struct {
	value   uint64
	count   uint64
	sum     uint64
	buckets []uint64
}

// PipelineConfig holds flush pipeline settings.
type PipelineConfig struct {
	// DrainLimit caps persisted batches replayed per flush.
	// Default: DefaultDrainLimit.
	DrainLimit int
	// MaxAttempts purges persisted batches after this many failed
	// replays. Zero disables the cap.
	MaxAttempts int
	// MaxAge purges persisted batches older than this. Zero disables
	// the cap.
	MaxAge time.Duration
}

// Pipeline turns recorder snapshots into delta batches and delivers
// them, falling back to the persistent store when the API is down.
type Pipeline struct {
	rec      *recorder.Recorder
	uploader *Uploader
	store    *fallback.Store
	resource recorder.Resource

	drainLimit  int
	maxAttempts int
	maxAge      time.Duration

	mu    sync.Mutex
	acked map[string]ackedState
}

// NewPipeline creates the primary export pipeline. store may be nil, in
// which case undelivered deltas stay in memory until the next flush.
func NewPipeline(rec *recorder.Recorder, up *Uploader, store *fallback.Store, res recorder.Resource, cfg PipelineConfig) *Pipeline {
	drainLimit := cfg.DrainLimit
	if drainLimit <= 0 {
		drainLimit = DefaultDrainLimit
	}
	return &Pipeline{
		rec:         rec,
		uploader:    up,
		store:       store,
		resource:    res,
		drainLimit:  drainLimit,
		maxAttempts: cfg.MaxAttempts,
		maxAge:      cfg.MaxAge,
		acked:       make(map[string]ackedState),
	}
}

// Flush runs one export cycle: purge dead persisted batches, replay the
// oldest persisted batches, then upload the current delta. Returns the
// first upload error; the recorder is never touched on failure, so no
// data is lost.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.purge(ctx)
	drainErr := p.drain(ctx)
	liveErr := p.flushLive(ctx)
	if liveErr != nil {
		return liveErr
	}
	return drainErr
}

// purge drops persisted batches past the age or attempt caps.
func (p *Pipeline) purge(ctx context.Context) {
	if p.store == nil {
		return
	}
	purged, err := p.store.Purge(ctx, p.maxAge, p.maxAttempts)
	if err != nil {
		logging.Warn("failed to purge fallback store", logging.F("error", err.Error()))
		return
	}
	if purged > 0 {
		logging.Info("purged undeliverable batches from fallback store",
			logging.F("purged", purged))
	}
}

// drain replays persisted batches oldest first. The first failure stops
// the drain; the API is evidently still down and younger batches would
// only fail the same way.
func (p *Pipeline) drain(ctx context.Context) error {
	if p.store == nil {
		return nil
	}

	records, err := p.store.Oldest(ctx, p.drainLimit)
	if err != nil {
		logging.Warn("failed to read fallback store", logging.F("error", err.Error()))
		return err
	}

	for _, r := range records {
		if err := p.uploader.Upload(ctx, r.Payload); err != nil {
			if markErr := p.store.MarkAttempt(ctx, r.ID); markErr != nil {
				logging.Warn("failed to mark replay attempt",
					logging.F("batch_id", r.ID, "error", markErr.Error()))
			}
			logging.Warn("fallback replay failed",
				logging.F("batch_id", r.ID, "attempts", r.Attempts+1, "error", err.Error()))
			return err
		}
		if err := p.store.Delete(ctx, r.ID); err != nil {
			logging.Warn("failed to delete replayed batch",
				logging.F("batch_id", r.ID, "error", err.Error()))
		}
		logging.Debug("replayed batch from fallback store", logging.F("batch_id", r.ID))
	}
	return nil
}

// flushLive diffs the current snapshot against the last-acknowledged
// state and uploads the delta. The acknowledged state advances only
// when the batch is delivered or durably persisted; otherwise the delta
// simply reappears on the next flush.
func (p *Pipeline) flushLive(ctx context.Context) error {
	snap := p.rec.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()

	samples := p.deltaLocked(snap)
	if len(samples) == 0 {
		return nil
	}

	batch := NewBatch(p.resource, samples)
	payload, err := batch.Encode()
	if err != nil {
		logging.Error("failed to encode batch", logging.F("error", err.Error()))
		return &UploadError{Err: err, Type: ErrorTypeSerialization}
	}

	uploadErr := p.uploader.Upload(ctx, payload)
	if uploadErr == nil {
		p.advanceLocked(snap)
		apiUploadSamplesTotal.Add(float64(len(samples)))
		logging.Debug("uploaded metrics batch",
			logging.F("batch_id", batch.ID, "samples", len(samples)))
		return nil
	}

	var ue *UploadError
	retryable := !errors.As(uploadErr, &ue) || ue.IsRetryable()
	logging.Warn("metrics upload failed",
		logging.F("batch_id", batch.ID, "samples", len(samples),
			"retryable", retryable, "error", uploadErr.Error()))

	if p.store == nil {
		return uploadErr
	}

	if err := p.store.Save(ctx, batch.ID, payload); err != nil {
		// Neither delivered nor persisted. Keep the acknowledged state
		// so the delta is retried from memory next flush.
		logging.Error("failed to persist undelivered batch",
			logging.F("batch_id", batch.ID, "error", err.Error()))
		return uploadErr
	}

	p.advanceLocked(snap)
	logging.Info("persisted undelivered batch to fallback store",
		logging.F("batch_id", batch.ID, "samples", len(samples)))
	return uploadErr
}

// deltaLocked computes per-identity deltas against the acknowledged
// state. Counters and histogram counts are monotonic, so a zero delta
// means nothing happened for that identity.
func (p *Pipeline) deltaLocked(snap *recorder.Snapshot) []BatchSample {
	var samples []BatchSample
	for _, s := range snap.Samples {
		prev := p.acked[s.Identity()]
		switch s.Kind {
		case recorder.KindCounter:
			if s.Value <= prev.value {
				continue
			}
			samples = append(samples, BatchSample{
				Name:       s.Name,
				Kind:       s.Kind.String(),
				Attributes: s.Attrs,
				Timestamp:  snap.TakenAt,
				Value:      s.Value - prev.value,
			})
		case recorder.KindHistogram:
			h := s.Histogram
			if h == nil || h.Count <= prev.count {
				continue
			}
			buckets := make([]uint64, len(h.BucketCounts))
			for i, c := range h.BucketCounts {
				if i < len(prev.buckets) {
					c -= prev.buckets[i]
				}
				buckets[i] = c
			}
			samples = append(samples, BatchSample{
				Name:         s.Name,
				Kind:         s.Kind.String(),
				Attributes:   s.Attrs,
				Timestamp:    snap.TakenAt,
				Count:        h.Count - prev.count,
				Sum:          h.Sum - prev.sum,
				Bounds:       recorder.HistogramBounds,
				BucketCounts: buckets,
			})
		}
	}
	return samples
}

// advanceLocked moves the acknowledged state to the snapshot.
func (p *Pipeline) advanceLocked(snap *recorder.Snapshot) {
	for _, s := range snap.Samples {
		state := ackedState{value: s.Value}
		if s.Histogram != nil {
			state.count = s.Histogram.Count
			state.sum = s.Histogram.Sum
			state.buckets = append([]uint64(nil), s.Histogram.BucketCounts...)
		}
		p.acked[s.Identity()] = state
	}
}
