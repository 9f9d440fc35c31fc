// Package queue runs network requests on a dedicated worker so that a
// single-threaded host never waits on I/O.
//
// The host submits requests with callbacks and later drains completions on its own
// goroutine, under an explicit per-call budget. Callbacks only ever run inside a
// drain call, on the draining goroutine.
//
// Completions are delivered in completion order, not submission order. A request
// that fails in the transport is logged and dropped: its callback never runs.
package queue

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/gripnet/grip/internal/errs"
	"github.com/gripnet/grip/internal/metrics"
	"github.com/gripnet/grip/pkg/logger"
)

// DefaultRequestTimeout bounds a single request when no timeout is configured
const DefaultRequestTimeout = 30 * time.Second

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdShutdown
)

// command is the unit handed from the caller side to the worker
type command struct {
	kind     commandKind
	request  Request
	callback Callback
}

type options struct {
	transport      Transport
	requestTimeout time.Duration
}

// Option customizes a Queue
type Option func(*options)

// WithTransport replaces the default HTTP transport
func WithTransport(t Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithRequestTimeout bounds each request; zero disables the bound
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

// Queue owns one worker goroutine, locked to its own OS thread, that turns
// submitted requests into concurrent transport calls.
//
// Submit and the Drain methods are meant to be called from a single host goroutine.
type Queue struct {
	transport      Transport
	requestTimeout time.Duration

	commands    chan command
	completions completionQueue

	closing      atomic.Bool
	stopped      chan struct{} // closed once the worker stops accepting commands
	exited       chan struct{} // closed once the worker has returned
	shutdownOnce sync.Once
}

// New starts the worker and returns once it is ready to accept commands.
// concurrency sizes the default transport and must be positive.
func New(concurrency int, opts ...Option) (*Queue, error) {
	if concurrency <= 0 {
		return nil, errs.Initialization("new queue", fmt.Sprintf("concurrency must be > 0, got %d", concurrency), nil)
	}

	o := options{requestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = NewHTTPTransport(concurrency, o.requestTimeout)
	}

	q := &Queue{
		transport:      o.transport,
		requestTimeout: o.requestTimeout,
		commands:       make(chan command),
		stopped:        make(chan struct{}),
		exited:         make(chan struct{}),
	}

	ready := make(chan struct{})
	go q.run(ready)
	<-ready

	logger.Info("Request queue started: concurrency=%d, requestTimeout=%v", concurrency, o.requestTimeout)
	return q, nil
}

// Submit hands req to the worker and returns immediately.
//
// The hand-off itself runs on its own goroutine, so two submits issued back to
// back may reach the worker in either order. After Shutdown has been initiated
// Submit returns an error of kind errs.KindShutdown; a submit racing with
// Shutdown may be accepted and still never run.
func (q *Queue) Submit(req Request, cb Callback) error {
	if cb == nil {
		return errs.InvalidInput("submit", "nil callback")
	}
	if q.closing.Load() {
		metrics.RequestsDroppedCounter.Inc()
		return errs.Shutdown("submit")
	}

	metrics.RequestsSubmittedCounter.Inc()
	q.schedule(command{kind: cmdSubmit, request: req, callback: cb})
	return nil
}

// Shutdown stops the worker and blocks until it has exited. In-flight requests
// are cancelled and their callbacks never run. Completions produced before the
// worker stopped can still be drained.
//
// Shutdown must be called once; later calls return immediately.
func (q *Queue) Shutdown() {
	q.shutdownOnce.Do(func() {
		q.closing.Store(true)
		logger.Info("Stopping request queue: waiting for worker to exit")
		q.schedule(command{kind: cmdShutdown})
		<-q.exited
		logger.Info("Request queue stopped")
	})
}

// DrainOnce makes a single non-blocking attempt to take a completion and, if
// one is available, invokes its callback before returning true.
func (q *Queue) DrainOnce() bool {
	c, ok := q.completions.tryPop()
	if !ok {
		return false
	}
	metrics.PendingCompletionsGauge.Set(float64(q.completions.size()))
	metrics.CallbacksInvokedCounter.Inc()
	c.Callback(c.Response)
	return true
}

// DrainWithLimit makes limit+1 drain attempts and sleeps stepDelay after each
// one, whether or not it delivered anything. It returns the number of attempts.
func (q *Queue) DrainWithLimit(limit int, stepDelay time.Duration) int {
	attempts := 0
	for attempts <= limit {
		q.DrainOnce()
		attempts++
		time.Sleep(stepDelay)
	}
	return attempts
}

// DrainWithTimeout repeats drain attempts, sleeping stepDelay between them,
// until more than total has elapsed. Elapsed time is only checked between
// attempts, so the call may overrun total by up to one stepDelay.
// It returns the number of attempts.
func (q *Queue) DrainWithTimeout(total, stepDelay time.Duration) int {
	start := time.Now()
	attempts := 0
	for {
		q.DrainOnce()
		attempts++
		if time.Since(start) > total {
			return attempts
		}
		time.Sleep(stepDelay)
	}
}

// Pending returns the number of completions waiting to be drained
func (q *Queue) Pending() int {
	return q.completions.size()
}

func (q *Queue) schedule(cmd command) {
	go func() {
		select {
		case q.commands <- cmd:
		case <-q.stopped:
			if cmd.kind == cmdSubmit {
				logger.Warn("Request queue stopped: dropping request %s", cmd.request)
				metrics.RequestsDroppedCounter.Inc()
			}
		}
	}()
}

// run is the worker loop. The goroutine keeps its OS thread locked until it
// returns, so the thread is discarded together with the worker.
func (q *Queue) run(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer close(q.exited)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tasks errgroup.Group
	close(ready)

	for cmd := range q.commands {
		if cmd.kind == cmdShutdown {
			break
		}
		tasks.Go(func() error {
			q.perform(ctx, cmd.request, cmd.callback)
			return nil
		})
	}

	close(q.stopped)
	cancel()
	_ = tasks.Wait()
}

func (q *Queue) perform(shutdownCtx context.Context, req Request, cb Callback) {
	metrics.InFlightGauge.Inc()
	defer metrics.InFlightGauge.Dec()

	ctx := shutdownCtx
	if q.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(shutdownCtx, q.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	status, body, err := q.transport.Perform(ctx, req.Method(), req.URI())
	if err != nil {
		if shutdownCtx.Err() != nil {
			logger.Warn("Request %s cancelled by shutdown", req)
			metrics.RequestsDroppedCounter.Inc()
			return
		}
		logger.Error("Request %s failed: %v", req, errs.Transport("perform", err))
		metrics.RequestsFailedCounter.Inc()
		return
	}
	metrics.RequestDurationHistogram.Observe(time.Since(start).Seconds())

	pending := q.completions.push(Completion{
		Response: &Response{Request: req, Status: status, Body: body},
		Callback: cb,
	})
	metrics.RequestsCompletedCounter.Inc()
	metrics.PendingCompletionsGauge.Set(float64(pending))
	logger.Debug("Request %s completed: status=%d, bytes=%d", req, status, len(body))
}
