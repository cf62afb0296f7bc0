package protocol

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/courier-rpc/courier/internal/protocol/config"
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
)

func testConfig() *configpkg.Config {
	return &configpkg.Config{DispatcherSystem: "channel"}
}

func newTestService(t *testing.T, deps ServiceDependencies) *Service {
	t.Helper()

	if deps.Dispatcher == nil {
		deps.Dispatcher = newFakeDispatcher()
	}

	s, err := TryNewService(context.Background(), testConfig(), testLogger(), deps)
	if err != nil {
		t.Fatalf("TryNewService failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTryNewServiceRequiresConfig(t *testing.T) {
	_, err := TryNewService(context.Background(), nil, testLogger(), ServiceDependencies{})
	if !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected ErrConfigRequired, got %v", err)
	}
}

func TestTryNewServiceRequiresLogger(t *testing.T) {
	_, err := TryNewService(context.Background(), testConfig(), nil, ServiceDependencies{})
	if !errors.Is(err, ErrLoggerRequired) {
		t.Fatalf("expected ErrLoggerRequired, got %v", err)
	}
}

func TestTryNewServiceValidatesConfig(t *testing.T) {
	conf := &configpkg.Config{DispatcherSystem: "nats"} // no URL
	_, err := TryNewService(context.Background(), conf, testLogger(), ServiceDependencies{
		Dispatcher: newFakeDispatcher(),
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNewServicePanicsOnBadWiring(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewService(context.Background(), nil, testLogger(), ServiceDependencies{})
}

func TestServiceRegisterAndRequest(t *testing.T) {
	s := newTestService(t, ServiceDependencies{})

	err := s.Register("role:math,cmd:add", func(ctx context.Context, r *Responder, payload Payload, callCtx Context) error {
		a, _ := payload["a"].(int)
		b, _ := payload["b"].(int)
		return r.Success(map[string]any{"sum": a + b})
	}, nil, nil)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	msg, err := s.Request(context.Background(), "role:math,cmd:add", Payload{"a": 2, "b": 3}, nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !msg.IsSuccessful() {
		t.Fatalf("expected success, got %v", msg.Errors())
	}
	payload := msg.Payload().(map[string]any)
	if payload["sum"] != 5 {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestServiceMakeError(t *testing.T) {
	s := newTestService(t, ServiceDependencies{
		ErrorDefinitions: map[string]errdefs.Definition{
			"OutOfStock": {
				Code: "OutOfStock",
				Message: func(p errdefs.Params) string {
					item, _ := p["item"].(string)
					return "out of stock: " + item
				},
			},
		},
	})

	ce, err := s.MakeError("OutOfStock", errdefs.Params{"item": "widget"})
	if err != nil {
		t.Fatalf("MakeError failed: %v", err)
	}
	if ce.Code != "OutOfStock" || !strings.Contains(ce.Message, "widget") {
		t.Fatalf("unexpected error: %+v", ce)
	}
	if ce.Marker != errdefs.Marker {
		t.Fatalf("marker missing: %+v", ce)
	}
}

func TestServiceMakeErrorUnknownCode(t *testing.T) {
	s := newTestService(t, ServiceDependencies{})

	_, err := s.MakeError("NeverRegistered", nil)
	if err == nil {
		t.Fatal("expected error for unknown code")
	}
}

func TestServiceMetricsRecordOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()

	conf := testConfig()
	conf.MetricsEnabled = true

	s, err := TryNewService(context.Background(), conf, testLogger(), ServiceDependencies{
		Dispatcher:        newFakeDispatcher(),
		MetricsRegisterer: registry,
	})
	if err != nil {
		t.Fatalf("TryNewService failed: %v", err)
	}
	defer s.Close()

	if err := s.Register("role:math", func(ctx context.Context, r *Responder, payload Payload, callCtx Context) error {
		return r.Success(nil)
	}, nil, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := s.Request(context.Background(), "role:math", Payload{}, nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var sawRequests bool
	for _, mf := range families {
		if mf.GetName() == "courier_requests_total" {
			sawRequests = true
			if len(mf.GetMetric()) == 0 {
				t.Fatal("requests counter has no samples")
			}
		}
	}
	if !sawRequests {
		t.Fatal("courier_requests_total not registered")
	}
}

func TestServiceStartStopsOnContextCancel(t *testing.T) {
	s := newTestService(t, ServiceDependencies{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
}
