// Package module is the boundary between a tick-driven script host and the
// request queue.
//
// A host creates one Module with Init, passes it to every call, and destroys it
// with Deinit. Host values arrive as primitive cells and raw byte slices; they are
// validated and copied here before anything reaches the queue. Any error is turned
// into the Invalid sentinel in one place and described to the host's Reporter.
//
// Response objects are exposed to handlers as handles into a table that only the
// host goroutine touches. A handle is valid for the duration of the single handler
// call it is passed to.
package module

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/atomic"

	"github.com/gripnet/grip/internal/config"
	"github.com/gripnet/grip/internal/errs"
	"github.com/gripnet/grip/internal/handle"
	"github.com/gripnet/grip/internal/metrics"
	"github.com/gripnet/grip/internal/queue"
	"github.com/gripnet/grip/pkg/logger"
)

// Cell is the host's native integer
type Cell = int64

const (
	// Invalid is returned to the host when a call is rejected
	Invalid Cell = 0
	// Accepted is returned by Request when the request was enqueued
	Accepted Cell = 1
)

// Reporter receives diagnostics for rejected host calls. amx identifies the
// calling script context and is passed through unchanged.
type Reporter interface {
	ReportError(amx uintptr, message string)
}

// ReporterFunc adapts a function to the Reporter interface
type ReporterFunc func(amx uintptr, message string)

// ReportError calls f
func (f ReporterFunc) ReportError(amx uintptr, message string) {
	f(amx, message)
}

// Handler is the host callback for a completed request. userData is the payload
// captured at submission, byte for byte.
type Handler func(forwardID Cell, response handle.Handle, userData []byte)

// Module is the explicit context shared by all host calls
type Module struct {
	queue     *queue.Queue
	responses *handle.Table[*queue.Response]
	reporter  Reporter

	callbacksPerFrame    int
	delayBetweenAttempts time.Duration

	closed atomic.Bool
}

// Init validates cfg, starts the request queue and returns the module context.
// Failures are of kind errs.KindInitialization.
func Init(cfg *config.Config, reporter Reporter, opts ...queue.Option) (*Module, error) {
	if cfg == nil {
		return nil, errs.Initialization("init", "missing configuration", nil)
	}
	if reporter == nil {
		return nil, errs.Initialization("init", "missing error reporter", nil)
	}

	qopts := append([]queue.Option{queue.WithRequestTimeout(cfg.RequestTimeout)}, opts...)
	q, err := queue.New(cfg.DNSThreads, qopts...)
	if err != nil {
		return nil, err
	}

	logger.Info("Module initialized: callbacksPerFrame=%d, delayBetweenAttempts=%v", cfg.CallbacksPerFrame, cfg.DelayBetweenAttempts)

	return &Module{
		queue:                q,
		responses:            handle.New[*queue.Response](),
		reporter:             reporter,
		callbacksPerFrame:    cfg.CallbacksPerFrame,
		delayBetweenAttempts: cfg.DelayBetweenAttempts,
	}, nil
}

// Request validates the host arguments and enqueues a request. It returns
// Accepted, or Invalid after reporting the reason to the Reporter.
//
// uri is the raw host string; nil stands for a null pointer. userData must be
// non-nil and hold at least userDataSize bytes; the first userDataSize bytes
// are copied before Request returns.
func (m *Module) Request(amx uintptr, forwardID Cell, uri []byte, methodCode Cell, handler Handler, userData []byte, userDataSize Cell) Cell {
	req, payload, err := m.validate(forwardID, uri, methodCode, handler, userData, userDataSize)
	if err != nil {
		return m.reject(amx, err)
	}

	err = m.queue.Submit(req, func(resp *queue.Response) {
		m.deliver(forwardID, resp, handler, payload)
	})
	if err != nil {
		return m.reject(amx, err)
	}
	return Accepted
}

func (m *Module) validate(forwardID Cell, uri []byte, methodCode Cell, handler Handler, userData []byte, userDataSize Cell) (queue.Request, []byte, error) {
	if m.closed.Load() {
		return queue.Request{}, nil, errs.Shutdown("request")
	}

	method, err := queue.ParseMethod(methodCode)
	if err != nil {
		return queue.Request{}, nil, err
	}

	if uri == nil {
		return queue.Request{}, nil, errs.InvalidInput("request", "Invalid URI.")
	}
	if !utf8.Valid(uri) {
		return queue.Request{}, nil, errs.InvalidInput("request", "URI is not UTF-8")
	}

	if handler == nil {
		return queue.Request{}, nil, errs.InvalidInput("request", "Invalid handler")
	}

	if userData == nil {
		return queue.Request{}, nil, errs.InvalidInput("request", "Invalid user data")
	}
	if userDataSize < 0 || userDataSize > Cell(len(userData)) {
		return queue.Request{}, nil, errs.InvalidInput("request",
			fmt.Sprintf("Invalid user data size %d (buffer holds %d)", userDataSize, len(userData)))
	}

	req, err := queue.NewRequest(forwardID, method, string(uri))
	if err != nil {
		return queue.Request{}, nil, err
	}

	payload := make([]byte, userDataSize)
	copy(payload, userData[:userDataSize])
	return req, payload, nil
}

// deliver runs on the host goroutine during a drain. The response handle lives
// exactly as long as the handler call.
func (m *Module) deliver(forwardID Cell, resp *queue.Response, handler Handler, payload []byte) {
	h := m.responses.Insert(resp)
	metrics.LiveHandlesGauge.Set(float64(m.responses.Len()))
	defer func() {
		m.responses.Remove(h)
		metrics.LiveHandlesGauge.Set(float64(m.responses.Len()))
	}()

	handler(forwardID, h, payload)
}

// reject is the only place an error becomes the host sentinel
func (m *Module) reject(amx uintptr, err error) Cell {
	metrics.RequestsRejectedCounter.Inc()

	var e *errs.Error
	msg := err.Error()
	if errors.As(err, &e) && e.Detail != "" {
		msg = e.Detail
	}
	logger.Warn("Rejected host call: %v", err)
	m.reporter.ReportError(amx, msg)
	return Invalid
}

// ProcessFrame is called once per host tick. It drains completions with the
// configured per-frame limit and delay, and returns the number of attempts.
func (m *Module) ProcessFrame() int {
	return m.queue.DrainWithLimit(m.callbacksPerFrame, m.delayBetweenAttempts)
}

// ProcessFrameFor drains completions until budget has elapsed, using the
// configured delay between attempts.
func (m *Module) ProcessFrameFor(budget time.Duration) int {
	return m.queue.DrainWithTimeout(budget, m.delayBetweenAttempts)
}

// ResponseBody returns the body of the response behind h. It is only valid
// inside the handler h was passed to.
func (m *Module) ResponseBody(amx uintptr, h handle.Handle) ([]byte, Cell) {
	resp, ok := m.responses.Lookup(h)
	if !ok {
		return nil, m.reject(amx, errs.InvalidInput("response body", fmt.Sprintf("Invalid response handle %d", h)))
	}
	return resp.Body, Accepted
}

// ResponseStatus returns the HTTP status of the response behind h, or Invalid.
func (m *Module) ResponseStatus(amx uintptr, h handle.Handle) Cell {
	resp, ok := m.responses.Lookup(h)
	if !ok {
		return m.reject(amx, errs.InvalidInput("response status", fmt.Sprintf("Invalid response handle %d", h)))
	}
	return Cell(resp.Status)
}

// Pending returns the number of completions waiting for the next frame
func (m *Module) Pending() int {
	return m.queue.Pending()
}

// Ready reports whether the module accepts requests
func (m *Module) Ready() bool {
	return !m.closed.Load()
}

// Deinit stops the queue and blocks until its worker has exited. Later
// requests are rejected.
func (m *Module) Deinit() {
	if m.closed.Swap(true) {
		return
	}
	logger.Info("Module deinit")
	m.queue.Shutdown()
}
