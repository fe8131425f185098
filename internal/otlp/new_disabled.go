//go:build !otel

package otlp

import (
	"github.com/git-ai-tools/metrics-pipeline/internal/logging"
)

// Available reports whether the OTLP sink was compiled in.
const Available = false

// New returns a no-op exporter. The warning fires once so an operator
// who enabled OTLP against a binary built without it finds out why
// nothing arrives.
func New(cfg Config) (Exporter, error) {
	logging.Warn("OTLP export enabled in configuration but not compiled into this binary",
		logging.F("endpoint", cfg.Endpoint))
	return Noop{}, nil
}
