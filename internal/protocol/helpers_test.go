package protocol

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/courier-rpc/courier/dispatcher"
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
	"github.com/courier-rpc/courier/internal/protocol/logging"
)

func testLogger() logging.ServiceLogger {
	return logging.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeDispatcher runs handlers inline so tests see completions without
// goroutine coordination.
type fakeDispatcher struct {
	mu       sync.Mutex
	handlers map[string]dispatcher.RawHandler

	// lastArgs records what the most recent Act sent, so tests can
	// inspect the merged argument map.
	lastArgs map[string]any
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{handlers: make(map[string]dispatcher.RawHandler)}
}

func (f *fakeDispatcher) Add(pattern string, handler dispatcher.RawHandler) error {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[canonical] = handler
	return nil
}

func (f *fakeDispatcher) Act(ctx context.Context, pattern string, args map[string]any) (map[string]any, error) {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.lastArgs = args
	handler, ok := f.handlers[canonical]
	f.mu.Unlock()

	if !ok {
		return nil, &dispatcher.Error{Pattern: canonical, Cause: errNoHandler}
	}

	var (
		resultErr error
		result    map[string]any
	)
	handler(ctx, args, func(err error, res map[string]any) {
		resultErr = err
		result = res
	})
	return result, resultErr
}

func (f *fakeDispatcher) Close() error { return nil }

var errNoHandler = &errdefs.FatalError{Code: "NoHandler", Message: "no handler registered"}

func newTestEngine(t *testing.T) (*Engine, *fakeDispatcher) {
	t.Helper()

	disp := newFakeDispatcher()
	engine, err := NewEngine(disp, errdefs.NewRegistry(nil), testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine, disp
}

// recordedCompletion captures what a responder delivered.
type recordedCompletion struct {
	called int
	err    error
	result map[string]any
}

func (rc *recordedCompletion) fn(err error, result map[string]any) {
	rc.called++
	rc.err = err
	rc.result = result
}
