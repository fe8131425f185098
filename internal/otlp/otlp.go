// Package otlp is the optional OTLP metrics sink. It reads recorder
// snapshots and pushes cumulative OTLP metrics; it never writes to the
// recorder or the fallback store, and its failures are dropped so a
// dead collector cannot disturb the primary API path.
package otlp

import (
	"context"
	"time"

	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

// DefaultTimeout bounds one OTLP export.
const DefaultTimeout = 10 * time.Second

// Protocol selects the OTLP transport.
type Protocol string

const (
	// ProtocolGRPC uses OTLP/gRPC.
	ProtocolGRPC Protocol = "grpc"
	// ProtocolHTTP uses OTLP/HTTP with protobuf bodies.
	ProtocolHTTP Protocol = "http"
)

// Config holds OTLP sink settings.
type Config struct {
	// Endpoint is host:port for gRPC or a URL for HTTP.
	Endpoint string
	// Protocol is grpc or http.
	Protocol Protocol
	// AuthHeader, when set, is sent verbatim as the authorization
	// header (gRPC metadata or HTTP header).
	AuthHeader string
	// Timeout bounds one export. Default: DefaultTimeout.
	Timeout time.Duration
	// Resource identifies this process on every export.
	Resource recorder.Resource
}

// Exporter pushes a snapshot to a collector.
type Exporter interface {
	Export(ctx context.Context, snap *recorder.Snapshot) error
	Close() error
}

// Noop is the exporter used when the sink is disabled or compiled out.
type Noop struct{}

// Export discards the snapshot.
func (Noop) Export(context.Context, *recorder.Snapshot) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
