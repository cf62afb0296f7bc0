// Package dispatcher defines the contract courier consumes from its
// pattern-addressed asynchronous call substrate. Each backend (channel,
// nats, watermill) lives in its own sub-package and registers itself with
// the dispatcher registry.
package dispatcher

import (
	"context"
	"fmt"
)

// ContextKey is the reserved argument key under which the opaque
// cross-cutting context travels with a request.
const ContextKey = "context$"

// internalSuffix marks argument keys owned by the substrate. Keys with this
// suffix never reach handler payloads.
const internalSuffix = "$"

// CompleteFunc finishes one invocation. It must be called at most once:
// with a non-nil error for a fatal outcome, or with (nil, result) for a
// normal completion carrying an exported message (success or business
// failure alike).
type CompleteFunc func(err error, result map[string]any)

// RawHandler is the callback shape a dispatcher invokes per inbound
// request.
type RawHandler func(ctx context.Context, args map[string]any, complete CompleteFunc)

// Dispatcher routes requests by pattern to registered handlers and delivers
// results through a single completion callback.
type Dispatcher interface {
	// Add registers a handler for a pattern. Registering the same
	// canonical pattern twice is an error.
	Add(pattern string, handler RawHandler) error

	// Act invokes the handler matching pattern and suspends the caller
	// until the invocation completes. A non-nil error is a hard failure;
	// the result map is the exported message of a normal completion.
	Act(ctx context.Context, pattern string, args map[string]any) (map[string]any, error)

	// Close releases subscriptions and connections. Pending invocations
	// are not awaited.
	Close() error
}

// Error wraps failures raised by the substrate itself, so the protocol
// layer can recognize and unwrap them during fatal normalization.
type Error struct {
	Pattern string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("dispatcher: %s failed", e.Pattern)
	}
	return fmt.Sprintf("dispatcher: %s: %v", e.Pattern, e.Cause)
}

// FromDispatcher marks the error as substrate-wrapped.
func (e *Error) FromDispatcher() bool { return true }

func (e *Error) Unwrap() error { return e.Cause }

// IsInternalKey reports whether an argument key belongs to the substrate
// rather than the business payload.
func IsInternalKey(key string) bool {
	return len(key) > 0 && key[len(key)-1:] == internalSuffix
}
