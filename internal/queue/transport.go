package queue

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gripnet/grip/pkg/logger"
)

// Transport performs one network call and returns the response status and body.
// Implementations must honour ctx cancellation and be safe for concurrent use.
type Transport interface {
	Perform(ctx context.Context, method Method, uri *url.URL) (status int, body []byte, err error)
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc func(ctx context.Context, method Method, uri *url.URL) (int, []byte, error)

// Perform calls f
func (f TransportFunc) Perform(ctx context.Context, method Method, uri *url.URL) (int, []byte, error) {
	return f(ctx, method, uri)
}

// HTTPTransport is the default Transport, backed by a shared net/http client
type HTTPTransport struct {
	client *http.Client
	dials  *semaphore.Weighted
}

// NewHTTPTransport builds a transport whose connection pool and concurrent
// resolve/dial operations are sized by concurrency.
func NewHTTPTransport(concurrency int, timeout time.Duration) *HTTPTransport {
	if concurrency <= 0 {
		concurrency = 1
	}

	t := &HTTPTransport{
		dials: semaphore.NewWeighted(int64(concurrency)),
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           t.limitDial(dialer.DialContext),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          concurrency * 2,
		MaxIdleConnsPerHost:   concurrency,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	t.client = &http.Client{Transport: transport, Timeout: timeout}
	return t
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// limitDial bounds how many name resolutions and connects run at once
func (t *HTTPTransport) limitDial(dial dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if err := t.dials.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer t.dials.Release(1)
		return dial(ctx, network, addr)
	}
}

// Perform issues the request and reads the whole body.
// Any HTTP status is a response; only transport failures are errors.
func (t *HTTPTransport) Perform(ctx context.Context, method Method, uri *url.URL) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method.String(), uri.String(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("Transport: %s %s returned %d", method, uri, resp.StatusCode)
	}

	return resp.StatusCode, body, nil
}

// CloseIdleConnections releases pooled connections
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
