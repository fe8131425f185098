package uploader

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/git-ai-tools/metrics-pipeline/internal/compression"
)

func TestUploadSuccess(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u := New(Config{
		Endpoint:    server.URL,
		Token:       "secret-token",
		Compression: compression.TypeNone,
	})
	defer u.Close()

	if err := u.Upload(context.Background(), []byte(`{"samples":[]}`)); err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}

	if string(gotBody) != `{"samples":[]}` {
		t.Errorf("unexpected body: %s", gotBody)
	}
	if got := gotHeaders.Get("Authorization"); got != "Bearer secret-token" {
		t.Errorf("unexpected Authorization header: %s", got)
	}
	if got := gotHeaders.Get("Content-Type"); got != "application/json" {
		t.Errorf("unexpected Content-Type: %s", got)
	}
	if got := gotHeaders.Get("Content-Encoding"); got != "" {
		t.Errorf("expected no Content-Encoding, got %s", got)
	}
}

func TestUploadNoTokenNoAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	u := New(Config{Endpoint: server.URL})
	defer u.Close()

	if err := u.Upload(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("expected no Authorization header, got %s", gotAuth)
	}
}

func TestUploadGzip(t *testing.T) {
	payload := []byte(`{"samples":[{"name":"git_ai.agent_usage"}]}`)
	var decoded []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enc := r.Header.Get("Content-Encoding"); enc != "gzip" {
			t.Errorf("expected gzip Content-Encoding, got %s", enc)
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("failed to create gzip reader: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		decoded, _ = io.ReadAll(zr)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u := New(Config{Endpoint: server.URL, Compression: compression.TypeGzip})
	defer u.Close()

	if err := u.Upload(context.Background(), payload); err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("gzip round trip mismatch: %s", decoded)
	}
}

func TestUploadZstd(t *testing.T) {
	payload := []byte(`{"samples":[{"name":"git_ai.checkpoints"}]}`)
	var decoded []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enc := r.Header.Get("Content-Encoding"); enc != "zstd" {
			t.Errorf("expected zstd Content-Encoding, got %s", enc)
		}
		body, _ := io.ReadAll(r.Body)
		dec, err := zstd.NewReader(nil)
		if err != nil {
			t.Errorf("failed to create zstd reader: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer dec.Close()
		decoded, _ = dec.DecodeAll(body, nil)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u := New(Config{Endpoint: server.URL, Compression: compression.TypeZstd})
	defer u.Close()

	if err := u.Upload(context.Background(), payload); err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("zstd round trip mismatch: %s", decoded)
	}
}

func TestUploadServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	u := New(Config{Endpoint: server.URL})
	defer u.Close()

	err := u.Upload(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected error for 500 response")
	}

	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UploadError, got %T", err)
	}
	if ue.Type != ErrorTypeServerError {
		t.Errorf("expected server_error, got %s", ue.Type)
	}
	if ue.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", ue.StatusCode)
	}
	if !ue.IsRetryable() {
		t.Error("expected server error to be retryable")
	}
}

func TestUploadAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	u := New(Config{Endpoint: server.URL, Token: "expired"})
	defer u.Close()

	err := u.Upload(context.Background(), []byte(`{}`))
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UploadError, got %T", err)
	}
	if ue.Type != ErrorTypeAuth {
		t.Errorf("expected auth error, got %s", ue.Type)
	}
	if ue.IsRetryable() {
		t.Error("expected auth error to be non-retryable")
	}
}

func TestUploadConnectionRefused(t *testing.T) {
	// Reserve a port and close it so the dial is refused.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	u := New(Config{Endpoint: endpoint, Timeout: 2 * time.Second})
	defer u.Close()

	err := u.Upload(context.Background(), []byte(`{}`))
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UploadError, got %T", err)
	}
	if ue.Type != ErrorTypeNetwork && ue.Type != ErrorTypeTimeout {
		t.Errorf("expected network or timeout error, got %s", ue.Type)
	}
	if !ue.IsRetryable() {
		t.Error("expected transport error to be retryable")
	}
}

func TestUploadTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		server.Close()
	}()

	u := New(Config{Endpoint: server.URL, Timeout: 100 * time.Millisecond})
	defer u.Close()

	err := u.Upload(context.Background(), []byte(`{}`))
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UploadError, got %T", err)
	}
	if ue.Type != ErrorTypeTimeout {
		t.Errorf("expected timeout error, got %s", ue.Type)
	}
}
