package graph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger keeps formatted debug messages for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	debugs []string
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.Debugf("%s", msg) }
func (l *recordingLogger) Debugf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugs = append(l.debugs, fmt.Sprintf(format, args...))
}
func (l *recordingLogger) Info(msg string, args ...any)      {}
func (l *recordingLogger) Infof(format string, args ...any)  {}
func (l *recordingLogger) Warn(msg string, args ...any)      {}
func (l *recordingLogger) Warnf(format string, args ...any)  {}
func (l *recordingLogger) Error(msg string, args ...any)     {}
func (l *recordingLogger) Errorf(format string, args ...any) {}

func (l *recordingLogger) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.debugs, "\n")
}

func TestLoggingTransportDumpsRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"displayName":"Adele"}`))
	}))
	defer server.Close()

	log := &recordingLogger{}
	client, err := NewConfiguredHTTPClient(HTTPConfig{Debug: true, Logger: log})
	require.NoError(t, err)

	res, err := client.Get(server.URL + "/me")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, `{"displayName":"Adele"}`, string(body), "dumping must not consume the body")
	out := log.joined()
	assert.Contains(t, out, "GET /me HTTP/1.1")
	assert.Contains(t, out, "Adele")
}

func TestLoggingTransportSkipsSliceBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	log := &recordingLogger{}
	client, err := NewConfiguredHTTPClient(HTTPConfig{Debug: true, Logger: log})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, server.URL+"/upload", strings.NewReader("SECRET-PAYLOAD"))
	require.NoError(t, err)
	req.Header.Set("Content-Range", "bytes 0-13/14")
	res, err := client.Do(req)
	require.NoError(t, err)
	res.Body.Close()

	assert.NotContains(t, log.joined(), "SECRET-PAYLOAD")
}

func TestChaosTransport(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	tests := []struct {
		name       string
		percent    int
		roll       int
		wantStatus int
		wantHits   int32
	}{
		{name: "roll below percent fails", percent: 30, roll: 10, wantStatus: http.StatusServiceUnavailable, wantHits: 0},
		{name: "roll above percent passes", percent: 30, roll: 50, wantStatus: http.StatusOK, wantHits: 1},
		{name: "full chaos", percent: 100, roll: 99, wantStatus: http.StatusServiceUnavailable, wantHits: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits.Store(0)
			roll := tt.roll
			client := &http.Client{Transport: &ChaosTransport{
				Base:    http.DefaultTransport,
				Percent: tt.percent,
				Rand:    func() int { return roll },
			}}

			res, err := client.Get(server.URL)
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantHits, hits.Load())
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, "1", res.Header.Get("Retry-After"))
				apiErr := newAPIError(res)
				assert.ErrorIs(t, apiErr, ErrRetryLater)
			}
		})
	}
}

func TestNewTransportRejectsBadProxy(t *testing.T) {
	_, err := NewTransport(HTTPConfig{ProxyURL: "://nope"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestNewTransportUsesProxy(t *testing.T) {
	rt, err := NewTransport(HTTPConfig{ProxyURL: "http://proxy.local:8888"})
	require.NoError(t, err)

	base, ok := rt.(*http.Transport)
	require.True(t, ok, "no middleware without debug or chaos")

	req, err := http.NewRequest(http.MethodGet, "https://graph.microsoft.com/v1.0/me", nil)
	require.NoError(t, err)
	proxy, err := base.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "proxy.local:8888", proxy.Host)
}

func TestDefaultHTTPConfigTimeout(t *testing.T) {
	client, err := NewConfiguredHTTPClient(DefaultHTTPConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, client.Timeout)

	client, err = NewConfiguredHTTPClient(HTTPConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.Timeout)
}

func TestRateLimiterHonoursRetryAfter(t *testing.T) {
	limiter := NewRateLimiter(1000, 1)
	limiter.RecordRateLimit(&http.Response{Header: http.Header{"Retry-After": {"1"}}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimiterZeroRetryAfter(t *testing.T) {
	limiter := NewRateLimiter(1000, 5)
	limiter.RecordRateLimit(&http.Response{Header: http.Header{"Retry-After": {"0"}}})
	assert.NoError(t, limiter.Wait(context.Background()))
}

func TestRateLimiterDefaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	assert.Equal(t, DefaultBurstSize, limiter.limiter.Burst())
	assert.InDelta(t, DefaultRequestsPerSecond, float64(limiter.limiter.Limit()), 0.001)
}

func TestEndpointsFor(t *testing.T) {
	ep, err := EndpointsFor("")
	require.NoError(t, err)
	assert.Equal(t, "https://graph.microsoft.com/v1.0", ep.GraphBaseURL)

	ep, err = EndpointsFor(CloudChina)
	require.NoError(t, err)
	assert.Equal(t, "https://login.chinacloudapi.cn", ep.AuthorityHost)

	_, err = EndpointsFor("mars")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
