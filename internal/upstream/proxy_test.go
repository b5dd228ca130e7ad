package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestForwardMissingTargetHeader(t *testing.T) {
	p := New(Config{})
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	_, err := p.Forward(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected an error when the target header is absent")
	}
}

func TestForwardRejectsNonAllowlistedTarget(t *testing.T) {
	p := New(Config{Allowlist: []string{"https://allowed.example.com"}})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(TargetHeader, "https://not-allowed.example.com")

	_, err := p.Forward(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected an error for a non-allowlisted target")
	}
}

func TestForwardSucceedsForAllowlistedTarget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("upstream response"))
	}))
	defer upstream.Close()

	p := New(Config{Allowlist: []string{upstream.URL}})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(TargetHeader, upstream.URL)

	resp, err := p.Forward(context.Background(), req, []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != "upstream response" {
		t.Errorf("expected passthrough body, got %q", resp.Body)
	}
}

func TestForwardStripsInternalHeaders(t *testing.T) {
	var seen http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := New(Config{Allowlist: []string{upstream.URL}})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(TargetHeader, upstream.URL)
	req.Header.Set("X-Contract-Id", "should-not-pass")
	req.Header.Set("X-Custom-Header", "should-pass")

	if _, err := p.Forward(context.Background(), req, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if seen.Get("X-Contract-Id") != "" {
		t.Error("expected internal X-Contract-Id header to be stripped before forwarding")
	}
	if seen.Get("X-Custom-Header") != "should-pass" {
		t.Error("expected non-internal headers to be forwarded")
	}
}

func TestForwardDecompressesGzipResponse(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte("decompressed body"))
	_ = gz.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}))
	defer upstream.Close()

	p := New(Config{Allowlist: []string{upstream.URL}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TargetHeader, upstream.URL)

	resp, err := p.Forward(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "decompressed body" {
		t.Errorf("expected decompressed body, got %q", resp.Body)
	}
}

func TestForwardSucceedsForTargetUnderAllowlistedPrefix(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := New(Config{Allowlist: []string{upstream.URL + "/"}})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(TargetHeader, upstream.URL+"/v1/chat/completions")

	if _, err := p.Forward(context.Background(), req, nil); err != nil {
		t.Errorf("expected a target under an allowlisted prefix to be permitted, got %v", err)
	}
}

func TestAllowlistEmptyPermitsAnyTarget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TargetHeader, upstream.URL)

	if _, err := p.Forward(context.Background(), req, nil); err != nil {
		t.Errorf("expected an empty allowlist to permit any target, got %v", err)
	}
}
