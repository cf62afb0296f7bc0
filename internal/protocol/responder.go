package protocol

import (
	"context"
	"errors"
	"sync"

	"github.com/courier-rpc/courier/internal/protocol/envelope"
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
	"github.com/courier-rpc/courier/internal/protocol/logging"
	"github.com/courier-rpc/courier/internal/protocol/schemas"
)

// Responder finishes exactly one invocation. A handler receives one per
// request and must resolve it through exactly one of Success, Failure, or
// Fatal. Later completion attempts are logged and ignored; the first call
// wins.
type Responder struct {
	mu        sync.Mutex
	completed bool

	pattern  string
	complete func(err error, result map[string]any)
	output   *schemas.Schema
	engine   *Engine
	errs     *errdefs.Registry
	log      logging.ServiceLogger
	callCtx  Context
}

func newResponder(pattern string, complete func(err error, result map[string]any), output *schemas.Schema, engine *Engine, log logging.ServiceLogger, callCtx Context) *Responder {
	return &Responder{
		pattern:  pattern,
		complete: complete,
		output:   output,
		engine:   engine,
		errs:     engine.Errors(),
		log:      log,
		callCtx:  callCtx,
	}
}

// Pattern returns the pattern this invocation was addressed to.
func (r *Responder) Pattern() string { return r.pattern }

// Context returns the call context that arrived with the request.
func (r *Responder) Context() Context { return r.callCtx }

// Success completes the invocation with a successful message carrying
// payload. A *envelope.Message is used as-is; anything else is wrapped into
// a fresh message. When an output schema was registered and the payload
// does not conform, the invocation is not completed: Success returns the
// SchemaValidationFailed classified error, so a handler returning it lets
// the registration boundary escalate the violation as a fatal condition.
func (r *Responder) Success(payload any) error {
	msg, ok := payload.(*envelope.Message)
	switch {
	case !ok:
		msg = envelope.New().SetPayload(payload)
	case msg == nil:
		msg = envelope.New()
	}

	if r.output != nil {
		if err := r.output.Validate(msg.Payload()); err != nil {
			r.log.Warn("reply rejected by output schema", logging.LogFields{
				"pattern": r.pattern,
				"error":   err.Error(),
			})
			return r.errs.MustMake(errdefs.CodeSchemaValidationFailed, errdefs.Params{
				"pattern": r.pattern,
				"details": err.Error(),
			})
		}
	}

	if len(msg.Context()) == 0 {
		msg.SetContext(r.callCtx)
	}

	r.completeOnce(nil, msg.Export().ToMap())
	return nil
}

// Failure completes the invocation with an unsuccessful message. Accepted
// causes: a failed *envelope.Message (relayed), one or more classified
// errors, or any error (coerced to a classified error).
func (r *Responder) Failure(cause any) error {
	msg := envelope.New().SetContext(r.callCtx)

	switch v := cause.(type) {
	case *envelope.Message:
		for _, ce := range v.Errors() {
			msg.AddError(ce)
		}
	case *errdefs.ClassifiedError:
		msg.AddError(v)
	case []*errdefs.ClassifiedError:
		for _, ce := range v {
			msg.AddError(ce)
		}
	case error:
		msg.AddError(errdefs.AsClassified(v))
	case string:
		msg.AddError(&errdefs.ClassifiedError{
			Code:    errdefs.CodeUnknown,
			Message: v,
			Marker:  errdefs.Marker,
		})
	}

	// A failed message always names at least one error.
	if len(msg.Errors()) == 0 {
		msg.AddError(&errdefs.ClassifiedError{
			Code:    errdefs.CodeUnknown,
			Message: "UNKNOWN MESSAGE",
			Marker:  errdefs.Marker,
		})
	}

	for _, ce := range msg.Errors() {
		r.log.Error("request failed", ce, logging.LogFields{
			"pattern": r.pattern,
			"code":    ce.Code,
		})
	}

	r.completeOnce(nil, msg.Export().ToMap())
	return nil
}

// Fatal completes the invocation with a hard error: the dispatcher relays
// it as a transport-level failure rather than a business reply. A Breakout
// is the exception: it carries a nested request's failed message and
// completes as that failure instead.
func (r *Responder) Fatal(cause any) {
	if err, ok := cause.(error); ok {
		var breakout *Breakout
		if errors.As(err, &breakout) && breakout.Message != nil {
			r.Failure(breakout.Message)
			return
		}
	}

	normalized := errdefs.NormalizeFatal(cause)
	r.log.Error("request fatal", normalized, logging.LogFields{
		"pattern": r.pattern,
	})
	r.completeOnce(normalized, nil)
}

// Inquest performs a nested request and unwraps its reply. A successful
// reply yields its payload. An unsuccessful reply yields a *Breakout
// carrying the failed message, so a handler can propagate the nested
// failure by returning the error as-is. The current call context is
// forwarded unless an explicit one is given.
func (r *Responder) Inquest(ctx context.Context, pattern string, args Payload, callCtx Context) (any, error) {
	if callCtx == nil {
		callCtx = r.callCtx
	}

	msg, err := r.engine.Request(ctx, pattern, args, callCtx)
	if err != nil {
		return nil, err
	}
	if !msg.IsSuccessful() {
		return nil, NewBreakout(msg)
	}
	return msg.Payload(), nil
}

// Completed reports whether the invocation has already been resolved.
func (r *Responder) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *Responder) completeOnce(err error, result map[string]any) {
	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		r.log.Warn("duplicate completion ignored", logging.LogFields{
			"pattern": r.pattern,
		})
		return
	}
	r.completed = true
	r.mu.Unlock()

	r.complete(err, result)
}
