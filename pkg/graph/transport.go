// Package graph (transport.go) builds the HTTP clients used by the SDK and
// the RoundTripper middleware installed on them: request logging and fault
// injection.
package graph

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/tonimelisma/graph-snippets/internal/logger"
)

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures the HTTP clients created by the SDK.
type HTTPConfig struct {
	Timeout time.Duration
	// ProxyURL routes every request through an HTTP proxy when set.
	ProxyURL string
	// Debug dumps requests and responses through Logger.
	Debug bool
	// ChaosPercent makes that share of requests fail with a synthetic 503.
	ChaosPercent int
	Logger       logger.Logger
}

// DefaultHTTPConfig returns the defaults used when no configuration is given.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{Timeout: DefaultTimeout, Logger: logger.NoopLogger{}}
}

// NewConfiguredHTTPClient creates an unauthenticated client with the
// configured timeout, proxy and middleware. Pre-authenticated upload URLs
// are called through this client.
func NewConfiguredHTTPClient(cfg HTTPConfig) (*http.Client, error) {
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// NewTransport builds the RoundTripper chain for cfg.
func NewTransport(cfg HTTPConfig) (http.RoundTripper, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing proxy URL '%s': %w", ErrInvalidRequest, cfg.ProxyURL, err)
		}
		base.Proxy = http.ProxyURL(proxy)
	}

	var rt http.RoundTripper = base
	if cfg.ChaosPercent > 0 {
		rt = &ChaosTransport{Base: rt, Percent: cfg.ChaosPercent}
	}
	if cfg.Debug {
		log := cfg.Logger
		if log == nil {
			log = logger.NoopLogger{}
		}
		rt = &LoggingTransport{Base: rt, Logger: log}
	}
	return rt, nil
}

// LoggingTransport dumps requests and responses at debug level. Bodies of
// slice uploads are not dumped.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger logger.Logger
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	withBody := req.Header.Get(headerContentRange) == ""
	if dump, err := httputil.DumpRequestOut(req, withBody); err != nil {
		t.Logger.Warnf("Error dumping request: %v", err)
	} else {
		t.Logger.Debugf("Request:\n%s", dump)
	}

	res, err := t.Base.RoundTrip(req)
	if err != nil {
		t.Logger.Debugf("Request %s %s failed: %v", req.Method, req.URL, err)
		return nil, err
	}

	if dump, err := httputil.DumpResponse(res, true); err != nil {
		t.Logger.Warnf("Error dumping response: %v", err)
	} else {
		t.Logger.Debugf("Response:\n%s", dump)
	}
	return res, nil
}

// ChaosTransport fails a random share of requests with 503 Service
// Unavailable and a Retry-After header, to exercise retry handling.
type ChaosTransport struct {
	Base    http.RoundTripper
	Percent int
	// Rand returns a value in [0, 100). Defaults to math/rand/v2.
	Rand func() int
}

func (t *ChaosTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	roll := rand.Intn(100)
	if t.Rand != nil {
		roll = t.Rand()
	}
	if roll >= t.Percent {
		return t.Base.RoundTrip(req)
	}

	if req.Body != nil {
		_ = req.Body.Close()
	}
	body := `{"error":{"code":"serviceNotAvailable","message":"Chaos transport injected failure"}}`
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"application/json"}, headerRetryAfter: {strconv.Itoa(1)}},
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}
