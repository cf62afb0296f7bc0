// Package courier is a message-envelope and handler-completion protocol
// over a pattern-addressed asynchronous dispatcher.
//
// A request names a pattern ("role:math,cmd:add"), carries a plain argument
// map, and comes back as a message envelope: successful with a payload, or
// failed with one or more classified errors. Handlers resolve each
// invocation exactly once through a Responder — Success, Failure, or Fatal —
// and can fan out to nested requests with Inquest, which converts a nested
// failure into a Breakout the handler simply returns.
//
// The dispatcher substrate is pluggable. Three backends ship with courier:
// an in-process channel dispatcher, NATS core request/reply, and a
// watermill pub/sub pair. Import a backend package and register it, or
// inject your own dispatcher through ServiceDependencies:
//
//	import (
//		"github.com/courier-rpc/courier"
//		"github.com/courier-rpc/courier/dispatcher/channel"
//	)
//
//	channel.Register()
//	conf, _ := courier.LoadConfigFromEnv()
//	log := courier.NewSlogServiceLogger(slog.Default())
//	svc := courier.NewService(ctx, conf, log, courier.ServiceDependencies{})
//
//	svc.Register("role:math,cmd:add", func(ctx context.Context, r *courier.Responder, payload courier.Payload, callCtx courier.Context) error {
//		a, _ := payload["a"].(float64)
//		b, _ := payload["b"].(float64)
//		return r.Success(map[string]any{"sum": a + b})
//	}, nil, nil)
//
//	msg, err := svc.Request(ctx, "role:math,cmd:add", courier.Payload{"a": 2, "b": 3}, nil)
package courier
