// Package upstream implements the Upstream Proxy: forwarding a request to
// the target declared by the caller, subject to an allowlist, and
// normalizing the response body for post-check evaluation.
//
// Grounded on internal/api/proxy.go's ProxyRequest: target-endpoint
// resolution, header copy-minus-internal-headers, and
// decompressResponseBody's brotli/gzip handling are adapted near-verbatim
// in shape, generalized from ACVPS's fixed header names to a configurable
// policy-header set and from direct contract-field lookup to an explicit
// target-header contract (spec.md §4.8 names a header, not a contract
// field, as the source of truth).
package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/idtoken"

	"github.com/policygate/gateway/pkg/gwerrors"
)

// TargetHeader is the request header naming the upstream URL to forward to.
const TargetHeader = "X-Target-Endpoint"

// hopByHop and policy headers are stripped before forwarding; the caller's
// own transport-level headers and the gateway's own routing headers never
// reach the upstream.
var strippedHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"X-Contract-Id":       true,
	"X-Tenant-Id":         true,
	"X-Target-Endpoint":   true,
	"X-Api-Key":           true,
}

// Proxy forwards requests to an allowlisted upstream and decompresses
// responses before they're handed to the post-check evaluator.
type Proxy struct {
	allowlist  []string // URL prefixes; empty means every target is permitted
	httpClient *http.Client
	cloudRunID bool // when true, mint a Google ID token for the upstream audience
}

// Config carries the Upstream Proxy's tunables.
type Config struct {
	Allowlist       []string
	Timeout         time.Duration
	CloudRunIDToken bool
}

// New builds a Proxy. An empty allowlist means every target is permitted —
// operators running entirely behind a private network may choose this.
func New(cfg Config) *Proxy {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Proxy{
		allowlist:  cfg.Allowlist,
		httpClient: &http.Client{Timeout: timeout},
		cloudRunID: cfg.CloudRunIDToken,
	}
}

// Response is the normalized result of an upstream call: status, headers,
// and a decompressed body ready for text extraction.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forward resolves the target from r's TargetHeader, validates it against
// the allowlist, and streams method/path/query/headers/body through.
func (p *Proxy) Forward(ctx context.Context, r *http.Request, body []byte) (*Response, error) {
	target := r.Header.Get(TargetHeader)
	if target == "" {
		return nil, gwerrors.New(gwerrors.KindInvalid, "missing "+TargetHeader+" header")
	}
	if err := p.checkAllowlist(target); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindInternal, err.Error())
	}
	copyForwardableHeaders(req.Header, r.Header)

	if p.cloudRunID {
		if err := attachIDToken(ctx, req, target); err != nil {
			log.WithError(err).Warn("failed to mint Cloud Run id token, forwarding unauthenticated")
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindUpstream5xx, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindInternal, "reading upstream body: "+err.Error())
	}

	decoded, err := decompress(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		log.WithError(err).Warn("upstream response decompression failed, using raw body")
		decoded = raw
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: decoded}, nil
}

// checkAllowlist enforces upstream.allowlist as a list of URL prefixes
// (spec.md §6), not exact targets, so a contract can allowlist a host or
// base path and forward to any URL under it.
func (p *Proxy) checkAllowlist(target string) error {
	if len(p.allowlist) == 0 {
		return nil
	}
	for _, prefix := range p.allowlist {
		if strings.HasPrefix(target, prefix) {
			return nil
		}
	}
	return gwerrors.New(gwerrors.KindInvalid, "target endpoint not allowlisted: "+target)
}

func copyForwardableHeaders(dst, src http.Header) {
	for key, values := range src {
		if strippedHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func attachIDToken(ctx context.Context, req *http.Request, audience string) error {
	ts, err := idtoken.NewTokenSource(ctx, audience)
	if err != nil {
		return err
	}
	tok, err := ts.Token()
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

func decompress(body []byte, contentEncoding string) ([]byte, error) {
	switch strings.ToLower(contentEncoding) {
	case "br", "brotli":
		r := brotli.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("brotli decompression failed: %w", err)
		}
		return out, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip decompression failed: %w", err)
		}
		return out, nil
	case "", "identity":
		return body, nil
	default:
		return body, nil
	}
}
