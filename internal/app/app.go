package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/atomic"

	"github.com/gripnet/grip/internal/admin"
	"github.com/gripnet/grip/internal/config"
	"github.com/gripnet/grip/internal/handle"
	"github.com/gripnet/grip/internal/module"
	"github.com/gripnet/grip/internal/queue"
	"github.com/gripnet/grip/pkg/logger"
)

// App is a reference host: it owns a module, ticks it at a fixed cadence and
// prints every delivered response.
type App struct {
	config    *config.Config
	targets   []string
	out       io.Writer
	once      bool
	readiness *atomic.Bool
	module    *module.Module
	admin     *admin.Server
	queueOpts []queue.Option

	delivered    int
	accepted     int
	lastDelivery time.Time
}

// Option customizes an App
type Option func(*App)

// WithExitWhenDone stops Run once every accepted target has been delivered.
// Requests that fail in the transport are never delivered, so Run also gives
// up after RequestTimeout plus Host.ShutdownTimeout pass without a delivery.
func WithExitWhenDone() Option {
	return func(a *App) { a.once = true }
}

// WithQueueOptions forwards options to the request queue
func WithQueueOptions(opts ...queue.Option) Option {
	return func(a *App) { a.queueOpts = append(a.queueOpts, opts...) }
}

// NewApp creates a new App instance. targets are requested once at startup,
// with forward ids 1..len(targets).
func NewApp(cfg *config.Config, targets []string, out io.Writer, opts ...Option) *App {
	a := &App{
		config:    cfg,
		targets:   targets,
		out:       out,
		readiness: atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// reportError is the diagnostic sink handed to the module
func (a *App) reportError(amx uintptr, message string) {
	logger.Error("[script %#x] %s", amx, message)
}

// handleResponse is the host callback for every target
func (a *App) handleResponse(forwardID module.Cell, response handle.Handle, userData []byte) {
	a.delivered++
	a.lastDelivery = time.Now()
	body, ok := a.module.ResponseBody(0, response)
	if ok == module.Invalid {
		return
	}
	status := a.module.ResponseStatus(0, response)
	fmt.Fprintf(a.out, "#%d %s -> %d (%d bytes)\n%s\n", forwardID, userData, status, len(body), body)
}

// preProcess initializes the module and optional admin server
func (a *App) preProcess() error {
	logger.Info("Preparing grip host...")

	m, err := module.Init(a.config, module.ReporterFunc(a.reportError), a.queueOpts...)
	if err != nil {
		return err
	}
	a.module = m

	if a.config.Admin.Enabled {
		a.admin = admin.NewServer(admin.Options{Port: a.config.Admin.Port}, a.readiness, m)
		a.admin.Start()
	}

	for i, target := range a.targets {
		ret := a.module.Request(0, module.Cell(i+1), []byte(target), module.Cell(queue.MethodGet),
			a.handleResponse, []byte(target), module.Cell(len(target)))
		if ret == module.Accepted {
			a.accepted++
		}
	}
	logger.Info("Submitted %d of %d targets", a.accepted, len(a.targets))
	return nil
}

// postProcess tears the host down in reverse order
func (a *App) postProcess() {
	logger.Info("Shutting down gracefully...")
	a.readiness.Store(false)

	if a.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.Host.ShutdownTimeout)
		defer cancel()
		if err := a.admin.Shutdown(ctx); err != nil {
			logger.Error("Admin shutdown error: %v", err)
		}
	}

	a.module.Deinit()
	logger.Info("Host stopped: delivered %d of %d accepted requests", a.delivered, a.accepted)
}

// Run ticks the module until ctx is cancelled or, with WithExitWhenDone, every
// accepted request has been delivered.
func (a *App) Run(ctx context.Context) error {
	if err := a.preProcess(); err != nil {
		return err
	}
	defer a.postProcess()

	a.readiness.Store(true)
	ticker := time.NewTicker(a.config.Host.TickInterval)
	defer ticker.Stop()

	logger.Info("Host ready: tick interval %v", a.config.Host.TickInterval)
	a.lastDelivery = time.Now()
	idleLimit := a.config.RequestTimeout + a.config.Host.ShutdownTimeout
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.module.ProcessFrame()
			if !a.once {
				continue
			}
			if a.delivered >= a.accepted {
				return nil
			}
			if idle := time.Since(a.lastDelivery); idle > idleLimit {
				logger.Warn("Giving up on %d undelivered requests after %v without a delivery", a.accepted-a.delivered, idle)
				return nil
			}
		}
	}
}
