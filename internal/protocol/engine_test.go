package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/courier-rpc/courier/dispatcher"
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
)

func TestNewEngineRequiresDispatcher(t *testing.T) {
	_, err := NewEngine(nil, nil, testLogger())
	if !errors.Is(err, ErrDispatcherRequired) {
		t.Fatalf("expected ErrDispatcherRequired, got %v", err)
	}
}

func TestNewEngineRequiresLogger(t *testing.T) {
	_, err := NewEngine(newFakeDispatcher(), nil, nil)
	if !errors.Is(err, ErrLoggerRequired) {
		t.Fatalf("expected ErrLoggerRequired, got %v", err)
	}
}

func TestRequestRequiresPattern(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Request(context.Background(), "", Payload{}, nil)
	if !errors.Is(err, ErrPatternRequired) {
		t.Fatalf("expected ErrPatternRequired, got %v", err)
	}
}

func TestRequestRejectsNilArgs(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Request(context.Background(), "role:math", nil, nil)
	if err == nil {
		t.Fatal("expected error for nil args")
	}

	var classified *errdefs.ClassifiedError
	if !errors.As(err, &classified) {
		t.Fatalf("expected classified error, got %T", err)
	}
	if classified.Code != errdefs.CodeInvalidArgumentShape {
		t.Fatalf("expected %s, got %s", errdefs.CodeInvalidArgumentShape, classified.Code)
	}
}

func TestRequestMergesPatternIntoArgs(t *testing.T) {
	engine, disp := newTestEngine(t)
	if err := engine.Register("role:math,cmd:add", func(ctx context.Context, r *Responder, payload Payload, callCtx Context) error {
		return r.Success(map[string]any{"ok": true})
	}, nil, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := engine.Request(context.Background(), "role:math,cmd:add", Payload{"a": 1}, nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if disp.lastArgs["role"] != "math" || disp.lastArgs["cmd"] != "add" {
		t.Fatalf("pattern pairs missing from sent args: %v", disp.lastArgs)
	}
	if disp.lastArgs["a"] != 1 {
		t.Fatalf("business args missing from sent args: %v", disp.lastArgs)
	}
}

func TestRequestDoesNotMutateCallerArgs(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.Register("role:math", func(ctx context.Context, r *Responder, payload Payload, callCtx Context) error {
		return r.Success(nil)
	}, nil, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	args := Payload{"a": 1}
	if _, err := engine.Request(context.Background(), "role:math", args, Context{"tenant": "x"}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if len(args) != 1 || args["a"] != 1 {
		t.Fatalf("caller args mutated: %v", args)
	}
}

func TestRequestAttachesCallContext(t *testing.T) {
	engine, disp := newTestEngine(t)
	if err := engine.Register("role:math", func(ctx context.Context, r *Responder, payload Payload, callCtx Context) error {
		return r.Success(nil)
	}, nil, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := engine.Request(context.Background(), "role:math", Payload{}, Context{"tenant": "acme"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	attached, ok := disp.lastArgs[dispatcher.ContextKey].(map[string]any)
	if !ok {
		t.Fatalf("call context not attached: %v", disp.lastArgs)
	}
	if attached["tenant"] != "acme" {
		t.Fatalf("call context lost fields: %v", attached)
	}
	if id, ok := attached[TraceIDKey].(string); !ok || id == "" {
		t.Fatalf("trace id not stamped: %v", attached)
	}
}

func TestRequestKeepsCallerTraceID(t *testing.T) {
	engine, disp := newTestEngine(t)
	if err := engine.Register("role:math", func(ctx context.Context, r *Responder, payload Payload, callCtx Context) error {
		return r.Success(nil)
	}, nil, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := engine.Request(context.Background(), "role:math", Payload{}, Context{TraceIDKey: "given"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	attached := disp.lastArgs[dispatcher.ContextKey].(map[string]any)
	if attached[TraceIDKey] != "given" {
		t.Fatalf("caller trace id overwritten: %v", attached)
	}
}

func TestRequestExplicitContextArgWins(t *testing.T) {
	engine, disp := newTestEngine(t)
	if err := engine.Register("role:math", func(ctx context.Context, r *Responder, payload Payload, callCtx Context) error {
		return r.Success(nil)
	}, nil, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	explicit := map[string]any{"trace_id": "explicit"}
	_, err := engine.Request(context.Background(), "role:math",
		Payload{dispatcher.ContextKey: explicit},
		Context{"tenant": "ignored"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	attached := disp.lastArgs[dispatcher.ContextKey].(map[string]any)
	if attached["trace_id"] != "explicit" {
		t.Fatalf("explicit context arg overwritten: %v", attached)
	}
	if _, ok := attached["tenant"]; ok {
		t.Fatalf("call context merged into explicit context arg: %v", attached)
	}
}

func TestRequestReturnsUnsuccessfulMessage(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.Register("role:fail", func(ctx context.Context, r *Responder, payload Payload, callCtx Context) error {
		return r.Failure(&errdefs.ClassifiedError{Code: "Nope", Message: "no", Marker: errdefs.Marker})
	}, nil, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	msg, err := engine.Request(context.Background(), "role:fail", Payload{}, nil)
	if err != nil {
		t.Fatalf("business failures must not be hard errors: %v", err)
	}
	if msg.IsSuccessful() {
		t.Fatal("expected unsuccessful message")
	}
	if msg.Errors()[0].Code != "Nope" {
		t.Fatalf("unexpected error: %v", msg.Errors()[0])
	}
}

func TestRequestHardFailure(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Request(context.Background(), "role:ghost", Payload{}, nil)
	if err == nil {
		t.Fatal("expected error for missing handler")
	}

	var dispErr *dispatcher.Error
	if !errors.As(err, &dispErr) {
		t.Fatalf("expected dispatcher error, got %T", err)
	}
}
