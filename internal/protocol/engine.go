// Package protocol implements the courier request engine: pattern-addressed
// requests over a dispatcher, message envelopes, exactly-once handler
// completion, and schema-gated registration.
package protocol

import (
	"context"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/courier-rpc/courier/dispatcher"
	"github.com/courier-rpc/courier/internal/protocol/envelope"
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
	"github.com/courier-rpc/courier/internal/protocol/ids"
	"github.com/courier-rpc/courier/internal/protocol/logging"
)

// Payload is the business content of a request or reply.
type Payload = map[string]any

// Context carries opaque cross-cutting request data, e.g. trace ids or
// tenant information. It travels with every request under the reserved
// dispatcher.ContextKey argument and is never part of the business payload.
type Context = map[string]any

// TraceIDKey is the call-context key the engine stamps with a fresh ULID
// when the caller did not supply one.
const TraceIDKey = "trace_id"

// Engine sends requests through a dispatcher and interprets the replies as
// message envelopes.
type Engine struct {
	disp    dispatcher.Dispatcher
	errs    *errdefs.Registry
	log     logging.ServiceLogger
	metrics *Metrics
}

// NewEngine wires a request engine.
func NewEngine(disp dispatcher.Dispatcher, errs *errdefs.Registry, log logging.ServiceLogger) (*Engine, error) {
	if disp == nil {
		return nil, ErrDispatcherRequired
	}
	if log == nil {
		return nil, ErrLoggerRequired
	}
	if errs == nil {
		errs = errdefs.NewRegistry(nil)
	}
	return &Engine{disp: disp, errs: errs, log: log}, nil
}

// Request sends args to the handler matching pattern and waits for the
// reply message. The call context travels under the reserved context
// argument; an explicit value already present in args wins. Hard failures
// (substrate errors, fatal handler outcomes) come back as the error; a
// handler's business failure comes back as an unsuccessful message.
func (e *Engine) Request(ctx context.Context, pattern string, args Payload, callCtx Context) (*envelope.Message, error) {
	if pattern == "" {
		return nil, ErrPatternRequired
	}
	if args == nil {
		return nil, e.errs.MustMake(errdefs.CodeInvalidArgumentShape, errdefs.Params{
			"pattern": pattern,
		})
	}

	merged, err := dispatcher.MergePattern(pattern, args)
	if err != nil {
		return nil, err
	}

	traceID := e.attachContext(merged, callCtx)

	tracer := otel.Tracer("courier")
	ctx, span := tracer.Start(ctx, "Request")
	defer span.End()
	span.SetAttributes(
		attribute.String("courier.pattern", pattern),
		attribute.String("courier.trace_id", traceID),
	)

	e.log.Debug("sending request", logging.LogFields{
		"pattern":  pattern,
		"trace_id": traceID,
		"args":     logging.RenderPayload(merged, logging.DefaultRenderLimit),
	})

	result, err := e.disp.Act(ctx, pattern, merged)
	if err != nil {
		e.log.Error("request failed", err, logging.LogFields{
			"pattern":  pattern,
			"trace_id": traceID,
		})
		return nil, err
	}

	msg := envelope.From(result)
	e.log.Debug("received reply", logging.LogFields{
		"pattern":    pattern,
		"trace_id":   traceID,
		"successful": msg.IsSuccessful(),
		"result":     logging.RenderPayload(result, logging.DefaultRenderLimit),
	})
	return msg, nil
}

// attachContext places the call context under the reserved argument key and
// returns the request's trace id. Args that already carry the reserved key
// keep their value untouched.
func (e *Engine) attachContext(args Payload, callCtx Context) string {
	if existing, ok := args[dispatcher.ContextKey]; ok {
		if m, ok := existing.(map[string]any); ok {
			if id, ok := m[TraceIDKey].(string); ok {
				return id
			}
		}
		return ""
	}

	attached := make(Context, len(callCtx)+1)
	maps.Copy(attached, callCtx)

	traceID, ok := attached[TraceIDKey].(string)
	if !ok || traceID == "" {
		traceID = ids.CreateULID()
		attached[TraceIDKey] = traceID
	}

	args[dispatcher.ContextKey] = attached
	return traceID
}

// Errors exposes the engine's error registry.
func (e *Engine) Errors() *errdefs.Registry {
	return e.errs
}

// WithMetrics attaches a metrics collector. Registered handlers record
// their outcomes through it.
func (e *Engine) WithMetrics(m *Metrics) *Engine {
	e.metrics = m
	return e
}
