package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20
	DefaultRequestTimeout = 15 * time.Second
	DefaultHTTPRetries    = 2
)

var errHTTPDisabled = errors.New("http not enabled")

// HTTPConfig controls outbound requests made on behalf of guest code. With no
// AllowedHosts every request is refused.
type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
	Retries        int
}

// HTTP serves the http_request host function.
type HTTP struct {
	cfg    HTTPConfig
	client *retryablehttp.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.RequestTimeout

	return &HTTP{cfg: cfg, client: client}
}

// Bind registers http_request on r.
func (h *HTTP) Bind(r *Registry) {
	r.Register("http_request", h.Request)
}

func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD":
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return nil, errors.New("url required")
	}
	if len(rawURL) > h.cfg.MaxURLLength {
		return nil, errors.New("url exceeds max length")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New("invalid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("scheme must be http or https")
	}
	if len(h.cfg.AllowedHosts) == 0 {
		return nil, errHTTPDisabled
	}
	if host := parsed.Hostname(); !h.allowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}

	var body io.Reader
	if s, ok := args["body"].(string); ok && s != "" {
		if int64(len(s)) > h.cfg.MaxBodySize {
			return nil, errors.New("request body exceeds max size")
		}
		body = strings.NewReader(s)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if vs, ok := v.(string); ok {
				req.Header.Set(k, vs)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"body":    string(payload),
		"headers": headers,
	}, nil
}

// allowed matches host against the allowlist. IP literals match only equal
// IPs; names match exactly or as a subdomain.
func (h *HTTP) allowed(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		for _, allowed := range h.cfg.AllowedHosts {
			if aip := net.ParseIP(allowed); aip != nil && aip.Equal(ip) {
				return true
			}
		}
		return false
	}
	for _, allowed := range h.cfg.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
