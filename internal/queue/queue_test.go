package queue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/gripnet/grip/internal/errs"
	"github.com/gripnet/grip/internal/metrics"
)

// drainUntil drains q until done reports true or the deadline passes
func drainUntil(t *testing.T, q *Queue, timeout time.Duration, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met after draining for %v", timeout)
		}
		q.DrainWithLimit(5, 5*time.Millisecond)
	}
}

func mustRequest(t *testing.T, id int64, uri string) Request {
	t.Helper()
	req, err := NewRequest(id, MethodGet, uri)
	if err != nil {
		t.Fatalf("NewRequest(%d, %q): %v", id, uri, err)
	}
	return req
}

func droppedCount(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.RequestsDroppedCounter.Write(&m); err != nil {
		t.Fatalf("read dropped counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestQueue_New_InvalidConcurrency verifies construction fails fast on a non-positive concurrency
func TestQueue_New_InvalidConcurrency(t *testing.T) {
	for _, c := range []int{0, -1} {
		q, err := New(c)
		if err == nil {
			q.Shutdown()
			t.Fatalf("expected New(%d) to fail", c)
		}
		if !errors.Is(err, errs.ErrInitialization) {
			t.Errorf("expected initialization error for New(%d), got %v", c, err)
		}
	}
}

// TestQueue_Submit_DeliversFixtureBody verifies a GET to a fixture fires the callback once with its body
func TestQueue_Submit_DeliversFixtureBody(t *testing.T) {
	fixture := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("fixture-payload"))
	}))
	defer fixture.Close()

	q, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Shutdown()

	var calls int
	var got *Response
	if err := q.Submit(mustRequest(t, 1, fixture.URL), func(r *Response) {
		calls++
		got = r
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	drainUntil(t, q, 5*time.Second, func() bool { return calls > 0 })

	// Further drains must not deliver again
	q.DrainWithLimit(5, time.Millisecond)

	if calls != 1 {
		t.Fatalf("expected exactly 1 callback, got %d", calls)
	}
	if got.ID() != 1 {
		t.Errorf("expected correlation id 1, got %d", got.ID())
	}
	if string(got.Body) != "fixture-payload" {
		t.Errorf("expected body %q, got %q", "fixture-payload", got.Body)
	}
	if got.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", got.Status)
	}
}

// TestQueue_CompletionOrder verifies a fast request submitted second is delivered first
func TestQueue_CompletionOrder(t *testing.T) {
	fixture := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(300 * time.Millisecond)
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer fixture.Close()

	q, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Shutdown()

	var order []int64
	record := func(r *Response) { order = append(order, r.ID()) }

	if err := q.Submit(mustRequest(t, 1, fixture.URL+"/slow"), record); err != nil {
		t.Fatalf("Submit slow: %v", err)
	}
	if err := q.Submit(mustRequest(t, 2, fixture.URL+"/fast"), record); err != nil {
		t.Fatalf("Submit fast: %v", err)
	}

	drainUntil(t, q, 5*time.Second, func() bool { return len(order) == 2 })

	if order[0] != 2 || order[1] != 1 {
		t.Errorf("expected completion order [2 1], got %v", order)
	}
}

// TestQueue_DrainWithLimit_Attempts verifies limit+1 attempts with a delay after each
func TestQueue_DrainWithLimit_Attempts(t *testing.T) {
	q, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Shutdown()

	const delay = 10 * time.Millisecond
	start := time.Now()
	attempts := q.DrainWithLimit(4, delay)
	elapsed := time.Since(start)

	if attempts != 5 {
		t.Errorf("expected 5 attempts for limit 4, got %d", attempts)
	}
	if elapsed < 5*delay {
		t.Errorf("expected at least %v spent sleeping, got %v", 5*delay, elapsed)
	}

	if got := q.DrainWithLimit(0, 0); got != 1 {
		t.Errorf("expected 1 attempt for limit 0, got %d", got)
	}
	if got := q.DrainWithLimit(-1, 0); got != 0 {
		t.Errorf("expected 0 attempts for negative limit, got %d", got)
	}
}

// TestQueue_DrainWithLimit_CountsAttemptsNotDeliveries verifies the return value ignores deliveries
func TestQueue_DrainWithLimit_CountsAttemptsNotDeliveries(t *testing.T) {
	release := make(chan struct{})
	transport := TransportFunc(func(ctx context.Context, m Method, u *url.URL) (int, []byte, error) {
		<-release
		return http.StatusOK, []byte("ok"), nil
	})

	q, err := New(1, WithTransport(transport))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Shutdown()

	var delivered int
	for i := int64(1); i <= 3; i++ {
		if err := q.Submit(mustRequest(t, i, "http://fixture.invalid/"), func(*Response) { delivered++ }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for q.Pending() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 pending completions, got %d", q.Pending())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if attempts := q.DrainWithLimit(9, 0); attempts != 10 {
		t.Errorf("expected 10 attempts, got %d", attempts)
	}
	if delivered != 3 {
		t.Errorf("expected 3 deliveries, got %d", delivered)
	}
}

// TestQueue_DrainWithTimeout verifies the wall-clock budget and its one-step overshoot bound
func TestQueue_DrainWithTimeout(t *testing.T) {
	q, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Shutdown()

	const total = 50 * time.Millisecond
	const delay = 10 * time.Millisecond

	start := time.Now()
	attempts := q.DrainWithTimeout(total, delay)
	elapsed := time.Since(start)

	if elapsed < total {
		t.Errorf("expected at least %v, got %v", total, elapsed)
	}
	if elapsed > total+delay+200*time.Millisecond {
		t.Errorf("expected roughly %v, got %v", total+delay, elapsed)
	}
	if attempts < 2 {
		t.Errorf("expected several attempts, got %d", attempts)
	}
}

// TestQueue_TransportFailure_NoCallback verifies failed requests are dropped silently
func TestQueue_TransportFailure_NoCallback(t *testing.T) {
	transport := TransportFunc(func(ctx context.Context, m Method, u *url.URL) (int, []byte, error) {
		if u.Path == "/broken" {
			return 0, nil, errors.New("connection refused")
		}
		return http.StatusOK, []byte("ok"), nil
	})

	q, err := New(1, WithTransport(transport))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Shutdown()

	var broken, healthy int
	_ = q.Submit(mustRequest(t, 1, "http://fixture.invalid/broken"), func(*Response) { broken++ })
	_ = q.Submit(mustRequest(t, 2, "http://fixture.invalid/ok"), func(*Response) { healthy++ })

	drainUntil(t, q, 5*time.Second, func() bool { return healthy == 1 })
	q.DrainWithTimeout(100*time.Millisecond, 5*time.Millisecond)

	if broken != 0 {
		t.Errorf("expected failed request callback never to fire, got %d calls", broken)
	}
}

// TestQueue_ExactlyOnce verifies every request is delivered exactly once with its own id
func TestQueue_ExactlyOnce(t *testing.T) {
	transport := TransportFunc(func(ctx context.Context, m Method, u *url.URL) (int, []byte, error) {
		return http.StatusOK, []byte(u.Path), nil
	})

	q, err := New(8, WithTransport(transport))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Shutdown()

	const n = 50
	seen := make(map[int64]int)
	for i := int64(1); i <= n; i++ {
		id := i
		req := mustRequest(t, id, "http://fixture.invalid/")
		if err := q.Submit(req, func(r *Response) {
			if r.ID() != id {
				t.Errorf("callback for %d received response for %d", id, r.ID())
			}
			seen[r.ID()]++
		}); err != nil {
			t.Fatalf("Submit %d: %v", id, err)
		}
	}

	drainUntil(t, q, 5*time.Second, func() bool { return len(seen) == n })
	q.DrainWithLimit(10, time.Millisecond)

	for id, count := range seen {
		if count != 1 {
			t.Errorf("request %d delivered %d times", id, count)
		}
	}
}

// TestQueue_Shutdown_NoNetworkAfter verifies the worker exits and later submits do nothing
func TestQueue_Shutdown_NoNetworkAfter(t *testing.T) {
	var performed int32
	transport := TransportFunc(func(ctx context.Context, m Method, u *url.URL) (int, []byte, error) {
		atomic.AddInt32(&performed, 1)
		return http.StatusOK, nil, nil
	})

	q, err := New(1, WithTransport(transport))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.Shutdown()

	select {
	case <-q.exited:
	default:
		t.Fatal("expected worker to have exited when Shutdown returned")
	}

	err = q.Submit(mustRequest(t, 1, "http://fixture.invalid/"), func(*Response) {})
	if !errors.Is(err, errs.ErrShutdown) {
		t.Errorf("expected shutdown error, got %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&performed); n != 0 {
		t.Errorf("expected no network activity after shutdown, got %d calls", n)
	}

	// A second call returns instead of blocking
	done := make(chan struct{})
	go func() {
		q.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Shutdown call blocked")
	}
}

// TestQueue_Shutdown_CancelsInFlight verifies Shutdown does not wait on a hung request
func TestQueue_Shutdown_CancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	transport := TransportFunc(func(ctx context.Context, m Method, u *url.URL) (int, []byte, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return 0, nil, ctx.Err()
	})

	q, err := New(1, WithTransport(transport), WithRequestTimeout(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var calls int
	_ = q.Submit(mustRequest(t, 1, "http://fixture.invalid/hang"), func(*Response) { calls++ })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the transport")
	}

	start := time.Now()
	q.Shutdown()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown took %v with a hung request", elapsed)
	}

	q.DrainWithLimit(3, time.Millisecond)
	if calls != 0 {
		t.Errorf("expected cancelled request callback never to fire, got %d", calls)
	}
}

// TestQueue_Submit_NilCallback verifies a missing callback is rejected
func TestQueue_Submit_NilCallback(t *testing.T) {
	q, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Shutdown()

	if err := q.Submit(mustRequest(t, 1, "http://fixture.invalid/"), nil); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("expected invalid input error, got %v", err)
	}
}

// TestQueue_Schedule_HandOffAfterShutdownIsDropped verifies a hand-off that loses the race with Shutdown is counted and never runs
func TestQueue_Schedule_HandOffAfterShutdownIsDropped(t *testing.T) {
	var performed int32
	transport := TransportFunc(func(ctx context.Context, m Method, u *url.URL) (int, []byte, error) {
		atomic.AddInt32(&performed, 1)
		return http.StatusOK, nil, nil
	})

	q, err := New(1, WithTransport(transport))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.Shutdown()

	before := droppedCount(t)
	var calls int32
	cb := func(*Response) { atomic.AddInt32(&calls, 1) }
	q.schedule(command{kind: cmdSubmit, request: mustRequest(t, 1, "http://example.com/late"), callback: cb})

	deadline := time.Now().Add(2 * time.Second)
	for droppedCount(t) <= before {
		if time.Now().After(deadline) {
			t.Fatal("expected the late hand-off to be counted as dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	q.DrainWithLimit(5, time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("expected no callback, got %d", n)
	}
	if n := atomic.LoadInt32(&performed); n != 0 {
		t.Errorf("expected no transport call, got %d", n)
	}
}
