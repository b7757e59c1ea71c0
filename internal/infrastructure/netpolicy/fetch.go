package netpolicy

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// FetchRequest is the guest's HTTP request.
type FetchRequest struct {
	Method    string            `json:"method,omitempty"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	TimeoutMs int               `json:"timeout_ms,omitempty"`
	MaxBytes  int               `json:"max_bytes,omitempty"`
}

// FetchResponse is returned to the guest. Body is base64 when Encoding says so.
type FetchResponse struct {
	Status    int               `json:"status"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Encoding  string            `json:"encoding"`
	Truncated bool              `json:"truncated"`
}

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
}

// Resolver looks up host addresses.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Fetcher performs guest HTTP requests.
type Fetcher struct {
	transport http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransport replaces the DNS-pinning transport. Tests use this to avoid real sockets.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) {
		f.transport = rt
	}
}

// WithResolver sets the resolver used by the DNS-pinning transport.
func WithResolver(r Resolver) FetcherOption {
	return func(f *Fetcher) {
		if pt, ok := f.transport.(*pinningTransport); ok {
			pt.resolver = r
		}
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// NewFetcher creates a fetcher whose connections are pinned to validated public addresses.
func NewFetcher(userAgent string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		transport: newPinningTransport(net.DefaultResolver),
		userAgent: userAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs req. Every redirect hop is passed to revalidate before it is followed.
// Policy denials are returned as *PolicyError.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest, revalidate func(*url.URL) Decision) (*FetchResponse, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, &PolicyError{Code: CodeInvalidURL, Message: fmt.Sprintf("method %q is not allowed", req.Method)}
	}
	if len(req.Body) > MaxRequestBodyBytes {
		return nil, &PolicyError{Code: CodeInvalidURL, Message: fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodyBytes)}
	}

	timeout := DefaultRequestTimeout
	if req.TimeoutMs > 0 && time.Duration(req.TimeoutMs)*time.Millisecond < timeout {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	maxBytes := DefaultMaxResponseBytes
	if req.MaxBytes > 0 {
		maxBytes = min(req.MaxBytes, HardMaxResponseBytes)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, req.URL, body)
	if err != nil {
		return nil, &PolicyError{Code: CodeInvalidURL, Message: err.Error()}
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	for k, v := range req.Headers {
		if strings.EqualFold(k, "host") {
			continue
		}
		httpReq.Header.Set(k, v)
	}

	client := &http.Client{
		Transport: f.transport,
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", MaxRedirects)
			}
			if revalidate != nil {
				if d := revalidate(next.URL); !d.OK {
					return d.Err()
				}
			}
			return nil
		},
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		var pe *PolicyError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Best-effort cleanup
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	truncated := false
	if len(data) > maxBytes {
		data = data[:maxBytes]
		truncated = true
		f.logger.WarnContext(ctx, "guest http response truncated", "url", req.URL, "max_bytes", maxBytes)
	}

	finalURL := req.URL
	if resp.Request != nil {
		finalURL = resp.Request.URL.String()
	}
	out := &FetchResponse{
		Status:    resp.StatusCode,
		URL:       finalURL,
		Headers:   make(map[string]string, len(resp.Header)),
		Truncated: truncated,
	}
	for k, vs := range resp.Header {
		out.Headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	if utf8.Valid(data) {
		out.Body, out.Encoding = string(data), "utf8"
	} else {
		out.Body, out.Encoding = base64.StdEncoding.EncodeToString(data), "base64"
	}
	return out, nil
}

// pinningTransport prevents DNS rebinding by resolving once, validating every address,
// and dialing the validated address directly.
type pinningTransport struct {
	base     *http.Transport
	resolver Resolver
}

func newPinningTransport(r Resolver) *pinningTransport {
	return &pinningTransport{
		base: &http.Transport{
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		resolver: r,
	}
}

// RoundTrip implements http.RoundTripper with DNS pinning and SSRF protection.
func (t *pinningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	hostname := req.URL.Hostname()
	addr, err := t.resolve(req.Context(), hostname)
	if err != nil {
		return nil, err
	}

	port := req.URL.Port()
	if port == "" {
		port = "80"
		if req.URL.Scheme == "https" {
			port = "443"
		}
	}

	pinned := t.base.Clone()
	pinned.DialContext = func(dialCtx context.Context, network, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: DefaultRequestTimeout, KeepAlive: 30 * time.Second}
		return dialer.DialContext(dialCtx, network, net.JoinHostPort(addr.String(), port))
	}
	if req.URL.Scheme == "https" {
		pinned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostname}
	}
	defer pinned.CloseIdleConnections()

	return pinned.RoundTrip(req)
}

func (t *pinningTransport) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if IsPrivateOrReserved(addr) {
			return netip.Addr{}, &PolicyError{Code: CodePrivateIPBlocked, Message: fmt.Sprintf("address %s is private or reserved", addr)}
		}
		return addr, nil
	}

	addrs, err := t.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to resolve host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("host %q has no addresses", host)
	}
	for _, a := range addrs {
		if IsPrivateOrReserved(a) {
			return netip.Addr{}, &PolicyError{
				Code:    CodePrivateIPBlocked,
				Message: fmt.Sprintf("host %q resolves to private or reserved address %s", host, a),
			}
		}
	}
	return addrs[0], nil
}
