// Package uploader posts metric batches to the git-ai API and feeds the
// persistent fallback store when the API is unreachable.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"

	"github.com/git-ai-tools/metrics-pipeline/internal/compression"
)

var (
	// apiUploadRequestsTotal tracks the number of upload attempts.
	apiUploadRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitai_api_upload_requests_total",
		Help: "Total number of API upload requests",
	})

	// apiUploadErrorsTotal tracks upload failures by error type.
	apiUploadErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitai_api_upload_errors_total",
		Help: "Total number of API upload errors by error type",
	}, []string{"error_type"})

	// apiUploadBytesTotal tracks bytes sent on the wire by compression.
	apiUploadBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitai_api_upload_bytes_total",
		Help: "Total bytes uploaded to the API",
	}, []string{"compression"})

	// apiUploadSamplesTotal tracks delivered metric samples.
	apiUploadSamplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitai_api_upload_samples_total",
		Help: "Total number of metric samples delivered to the API",
	})
)

func init() {
	prometheus.MustRegister(apiUploadRequestsTotal)
	prometheus.MustRegister(apiUploadErrorsTotal)
	prometheus.MustRegister(apiUploadBytesTotal)
	prometheus.MustRegister(apiUploadSamplesTotal)
}

// Config holds the API client configuration.
type Config struct {
	// Endpoint is the full URL of the metrics ingest endpoint.
	Endpoint string
	// Token is the bearer token; empty sends no Authorization header.
	Token string
	// Timeout is the per-request timeout.
	Timeout time.Duration
	// Compression applied to request bodies.
	Compression compression.Type
}

// Uploader is the HTTP client for the primary API sink.
type Uploader struct {
	endpoint    string
	token       string
	timeout     time.Duration
	compression compression.Type
	client      *http.Client
}

// New creates an uploader with a pooled HTTP/2-capable transport.
func New(cfg Config) *Uploader {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if http2Transport, err := http2.ConfigureTransports(transport); err == nil && http2Transport != nil {
		http2Transport.ReadIdleTimeout = 30 * time.Second
		http2Transport.PingTimeout = 10 * time.Second
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Uploader{
		endpoint:    cfg.Endpoint,
		token:       cfg.Token,
		timeout:     timeout,
		compression: cfg.Compression,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Upload posts one encoded batch. A non-2xx response or transport error
// returns an *UploadError; the caller decides whether the payload goes
// to the fallback store.
func (u *Uploader) Upload(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	body, err := compression.Compress(payload, u.compression)
	if err != nil {
		return &UploadError{Err: fmt.Errorf("compress payload: %w", err), Type: ErrorTypeSerialization}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return &UploadError{Err: fmt.Errorf("build request: %w", err), Type: ErrorTypeSerialization}
	}

	req.Header.Set("Content-Type", "application/json")
	if encoding := u.compression.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	apiUploadRequestsTotal.Inc()

	resp, err := u.client.Do(req)
	if err != nil {
		errType := classifyError(err)
		apiUploadErrorsTotal.WithLabelValues(string(errType)).Inc()
		return &UploadError{Err: fmt.Errorf("send request: %w", err), Type: errType}
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errType := classifyStatusCode(resp.StatusCode)
		apiUploadErrorsTotal.WithLabelValues(string(errType)).Inc()
		return &UploadError{
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
			Type:       errType,
			StatusCode: resp.StatusCode,
		}
	}

	label := string(u.compression)
	if label == "" {
		label = string(compression.TypeNone)
	}
	apiUploadBytesTotal.WithLabelValues(label).Add(float64(len(body)))

	return nil
}

// Close releases idle connections.
func (u *Uploader) Close() {
	u.client.CloseIdleConnections()
}
