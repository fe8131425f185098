package otlp

import (
	"context"

	"github.com/git-ai-tools/metrics-pipeline/internal/logging"
	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

// Pipeline adapts the exporter to the scheduler. It only ever reads
// snapshots; an export failure is logged and the data simply rides
// along in the next cumulative export.
type Pipeline struct {
	rec      *recorder.Recorder
	exporter Exporter
}

// NewPipeline wires a recorder to an exporter.
func NewPipeline(rec *recorder.Recorder, exp Exporter) *Pipeline {
	return &Pipeline{rec: rec, exporter: exp}
}

// Flush exports the current snapshot.
func (p *Pipeline) Flush(ctx context.Context) error {
	snap := p.rec.Snapshot()
	if err := p.exporter.Export(ctx, snap); err != nil {
		logging.Warn("OTLP export failed, dropping", logging.F("error", err.Error()))
		return err
	}
	return nil
}

// Close shuts down the exporter transport.
func (p *Pipeline) Close() error {
	return p.exporter.Close()
}
