//go:build otel

package otlp

// Available reports whether the OTLP sink was compiled in.
const Available = true

// New builds the real exporter.
func New(cfg Config) (Exporter, error) {
	return newExporter(cfg)
}
