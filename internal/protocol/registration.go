package protocol

import (
	"context"
	"time"

	"github.com/courier-rpc/courier/dispatcher"
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
	"github.com/courier-rpc/courier/internal/protocol/logging"
	"github.com/courier-rpc/courier/internal/protocol/schemas"
)

// Handler processes one invocation. The payload holds the business
// arguments with routing and substrate fields already stripped; callCtx is
// the opaque call context that traveled with the request. The handler must
// resolve r exactly once, which it may do after returning. A non-nil return
// resolves r as fatal (or, for a *Breakout, as the carried failure).
type Handler func(ctx context.Context, r *Responder, payload Payload, callCtx Context) error

// Register binds a handler to a pattern on the engine's dispatcher. Input
// and output schemas are optional (nil skips validation) and accept any
// source schemas.Compile understands. Inbound payloads failing the input
// schema are rejected before the handler runs; outbound success payloads
// failing the output schema leave the invocation open, and the error the
// responder returns escalates as fatal when the handler returns it.
func (e *Engine) Register(pattern string, handler Handler, inputSchema, outputSchema any) error {
	if pattern == "" {
		return ErrPatternRequired
	}
	if handler == nil {
		return e.errs.MustMake(errdefs.CodeHandlerNotAsynchronous, errdefs.Params{
			"pattern": pattern,
		})
	}

	input, err := schemas.Compile(inputSchema)
	if err != nil {
		return err
	}
	output, err := schemas.Compile(outputSchema)
	if err != nil {
		return err
	}

	patternKeys, err := dispatcher.PatternKeys(pattern)
	if err != nil {
		return err
	}

	raw := e.buildRawHandler(pattern, patternKeys, handler, input, output)
	if err := e.disp.Add(pattern, raw); err != nil {
		return err
	}

	e.log.Info("handler registered", logging.LogFields{
		"pattern":       pattern,
		"input_schema":  input != nil,
		"output_schema": output != nil,
	})
	return nil
}

// buildRawHandler adapts a Handler to the dispatcher callback shape. The
// adapter owns the invocation boundary: context extraction, payload
// filtering, input validation, panic recovery, and outcome metrics.
func (e *Engine) buildRawHandler(pattern string, patternKeys []string, handler Handler, input, output *schemas.Schema) dispatcher.RawHandler {
	return func(ctx context.Context, args map[string]any, complete dispatcher.CompleteFunc) {
		started := time.Now()
		callCtx := extractContext(args)

		instrumented := func(err error, result map[string]any) {
			e.metrics.observe(pattern, outcomeOf(err, result), started)
			complete(err, result)
		}

		r := newResponder(pattern, instrumented, output, e, e.log, callCtx)

		defer func() {
			if recovered := recover(); recovered != nil {
				e.log.Error("handler panicked", errdefs.NormalizeFatal(recovered), logging.LogFields{
					"pattern": pattern,
				})
				r.Fatal(recovered)
			}
		}()

		payload := filterPayload(args, patternKeys)

		if input != nil {
			if err := input.Validate(payload); err != nil {
				e.log.Warn("request rejected by input schema", logging.LogFields{
					"pattern": pattern,
					"error":   err.Error(),
				})
				r.Fatal(e.errs.MustMake(errdefs.CodeSchemaValidationFailed, errdefs.Params{
					"pattern": pattern,
					"details": err.Error(),
				}))
				return
			}
		}

		if err := handler(ctx, r, payload, callCtx); err != nil {
			r.Fatal(err)
		}
	}
}

// extractContext pulls the call context out of the reserved argument.
func extractContext(args map[string]any) Context {
	raw, ok := args[dispatcher.ContextKey]
	if !ok {
		return nil
	}
	callCtx, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return callCtx
}

// filterPayload strips routing fields and substrate-internal keys, leaving
// only the business payload.
func filterPayload(args map[string]any, patternKeys []string) Payload {
	payload := make(Payload, len(args))
	for key, value := range args {
		if dispatcher.IsInternalKey(key) {
			continue
		}
		payload[key] = value
	}
	for _, key := range patternKeys {
		delete(payload, key)
	}
	return payload
}

// outcomeOf labels a completion for metrics.
func outcomeOf(err error, result map[string]any) string {
	if err != nil {
		return OutcomeFatal
	}
	if successful, ok := result["successful"].(bool); ok && !successful {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
