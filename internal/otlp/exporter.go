package otlp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"

	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

var (
	// otlpExportRequestsTotal tracks OTLP export attempts.
	otlpExportRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitai_otlp_export_requests_total",
		Help: "Total number of OTLP export requests",
	})

	// otlpExportErrorsTotal tracks dropped OTLP exports.
	otlpExportErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitai_otlp_export_errors_total",
		Help: "Total number of failed OTLP export requests",
	})
)

func init() {
	prometheus.MustRegister(otlpExportRequestsTotal)
	prometheus.MustRegister(otlpExportErrorsTotal)
}

// exporter pushes snapshots over OTLP/gRPC or OTLP/HTTP.
type exporter struct {
	protocol   Protocol
	timeout    time.Duration
	authHeader string
	resource   recorder.Resource

	grpcConn   *grpc.ClientConn
	grpcClient colmetricspb.MetricsServiceClient

	httpClient   *http.Client
	httpEndpoint string
}

func newExporter(cfg Config) (*exporter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch cfg.Protocol {
	case ProtocolGRPC, "":
		return newGRPCExporter(cfg)
	case ProtocolHTTP:
		return newHTTPExporter(cfg)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", cfg.Protocol)
	}
}

func newGRPCExporter(cfg Config) (*exporter, error) {
	endpoint := cfg.Endpoint
	insecureConn := true
	if strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		insecureConn = false
	} else {
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}

	var opts []grpc.DialOption
	if insecureConn {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}

	return &exporter{
		protocol:   ProtocolGRPC,
		timeout:    cfg.Timeout,
		authHeader: cfg.AuthHeader,
		resource:   cfg.Resource,
		grpcConn:   conn,
		grpcClient: colmetricspb.NewMetricsServiceClient(conn),
	}, nil
}

func newHTTPExporter(cfg Config) (*exporter, error) {
	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	if !strings.Contains(strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://"), "/") {
		endpoint += "/v1/metrics"
	}

	return &exporter{
		protocol:     ProtocolHTTP,
		timeout:      cfg.Timeout,
		authHeader:   cfg.AuthHeader,
		resource:     cfg.Resource,
		httpEndpoint: endpoint,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				ForceAttemptHTTP2: true,
				MaxIdleConns:      2,
				IdleConnTimeout:   90 * time.Second,
			},
		},
	}, nil
}

// Export pushes one snapshot. Empty snapshots are skipped.
func (e *exporter) Export(ctx context.Context, snap *recorder.Snapshot) error {
	if len(snap.Samples) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := Translate(snap, e.resource)
	otlpExportRequestsTotal.Inc()

	var err error
	switch e.protocol {
	case ProtocolGRPC:
		err = e.exportGRPC(ctx, req)
	case ProtocolHTTP:
		err = e.exportHTTP(ctx, req)
	}
	if err != nil {
		otlpExportErrorsTotal.Inc()
	}
	return err
}

func (e *exporter) exportGRPC(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) error {
	if e.authHeader != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", e.authHeader)
	}
	_, err := e.grpcClient.Export(ctx, req)
	return err
}

func (e *exporter) exportHTTP(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) error {
	body, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.httpEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	if e.authHeader != "" {
		httpReq.Header.Set("Authorization", e.authHeader)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Close closes the transport.
func (e *exporter) Close() error {
	switch e.protocol {
	case ProtocolGRPC:
		if e.grpcConn != nil {
			return e.grpcConn.Close()
		}
	case ProtocolHTTP:
		if e.httpClient != nil {
			e.httpClient.CloseIdleConnections()
		}
	}
	return nil
}
