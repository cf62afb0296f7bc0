// Package channel provides an in-process dispatcher backed by goroutines.
// This dispatcher is useful for testing and single-process deployments.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/courier-rpc/courier/dispatcher"
	"github.com/courier-rpc/courier/internal/protocol/logging"
)

// DispatcherName is the name used to register this dispatcher.
const DispatcherName = "channel"

// ErrNoHandler indicates no handler is registered for a pattern.
var ErrNoHandler = errors.New("no handler registered")

// ErrClosed indicates the dispatcher has been closed.
var ErrClosed = errors.New("dispatcher is closed")

// Register registers the channel dispatcher with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the dispatcher.
func Register() {
	dispatcher.RegisterWithCapabilities(DispatcherName, Build, dispatcher.ChannelCapabilities)
}

// Build creates a new channel dispatcher.
func Build(ctx context.Context, cfg dispatcher.Config, log logging.ServiceLogger) (dispatcher.Dispatcher, error) {
	return New(log), nil
}

// Capabilities returns the capabilities of this dispatcher.
func Capabilities() dispatcher.Capabilities {
	return dispatcher.ChannelCapabilities
}

// Dispatcher routes invocations to handlers in the same process. Each Act
// runs its handler on a fresh goroutine, so handlers are free to block.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]dispatcher.RawHandler
	log      logging.ServiceLogger
	closed   bool
}

// New creates an in-process dispatcher. The logger may be nil.
func New(log logging.ServiceLogger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]dispatcher.RawHandler),
		log:      log,
	}
}

// Add registers a handler for a pattern.
func (d *Dispatcher) Add(pattern string, handler dispatcher.RawHandler) error {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return err
	}
	if handler == nil {
		return &dispatcher.Error{Pattern: canonical, Cause: errors.New("handler is nil")}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return &dispatcher.Error{Pattern: canonical, Cause: ErrClosed}
	}
	if _, exists := d.handlers[canonical]; exists {
		return &dispatcher.Error{Pattern: canonical, Cause: errors.New("pattern already registered")}
	}

	d.handlers[canonical] = handler
	if d.log != nil {
		d.log.Debug("handler registered", logging.LogFields{"pattern": canonical})
	}
	return nil
}

type completion struct {
	err    error
	result map[string]any
}

// Act invokes the handler for pattern and waits for its completion or for
// ctx to be done, whichever comes first.
func (d *Dispatcher) Act(ctx context.Context, pattern string, args map[string]any) (map[string]any, error) {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	closed := d.closed
	handler, ok := d.handlers[canonical]
	d.mu.RUnlock()

	if closed {
		return nil, &dispatcher.Error{Pattern: canonical, Cause: ErrClosed}
	}
	if !ok {
		return nil, &dispatcher.Error{Pattern: canonical, Cause: ErrNoHandler}
	}

	done := make(chan completion, 1)
	var once sync.Once
	complete := func(err error, result map[string]any) {
		once.Do(func() {
			done <- completion{err: err, result: result}
		})
	}

	go handler(ctx, args, complete)

	select {
	case <-ctx.Done():
		return nil, &dispatcher.Error{Pattern: canonical, Cause: ctx.Err()}
	case c := <-done:
		if c.err != nil {
			return nil, c.err
		}
		return c.result, nil
	}
}

// Close marks the dispatcher closed. In-flight invocations are not awaited.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.handlers = make(map[string]dispatcher.RawHandler)
	return nil
}
