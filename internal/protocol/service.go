package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/courier-rpc/courier/dispatcher"
	configpkg "github.com/courier-rpc/courier/internal/protocol/config"
	"github.com/courier-rpc/courier/internal/protocol/envelope"
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
	"github.com/courier-rpc/courier/internal/protocol/logging"
)

// ServiceDependencies holds the optional collaborators a Service can use.
// Leave fields nil to take the defaults.
type ServiceDependencies struct {
	// Dispatcher overrides the registry-built dispatcher.
	Dispatcher dispatcher.Dispatcher

	// ErrorDefinitions extends the built-in error registry with
	// application codes.
	ErrorDefinitions map[string]errdefs.Definition

	// MetricsRegisterer overrides prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
}

// Service wires a dispatcher, error registry, request engine, and metrics
// into one entry point. Register handlers on the returned Service before
// calling Start.
type Service struct {
	Conf   *configpkg.Config
	Logger logging.ServiceLogger

	disp    dispatcher.Dispatcher
	errs    *errdefs.Registry
	engine  *Engine
	metrics *Metrics
}

// NewService constructs a Service for the supplied configuration. It panics
// on wiring failures; use TryNewService to handle them.
func NewService(ctx context.Context, conf *configpkg.Config, log logging.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService constructs a Service for the supplied configuration.
func TryNewService(ctx context.Context, conf *configpkg.Config, log logging.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, ErrConfigRequired
	}
	if log == nil {
		return nil, ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log.Info("creating courier service", logging.LogFields{
		"dispatcher": conf.DispatcherSystem,
		"config":     conf.String(),
	})

	disp := deps.Dispatcher
	if disp == nil {
		var err error
		disp, err = dispatcher.Build(ctx, conf, log)
		if err != nil {
			return nil, err
		}
	}

	errs := errdefs.NewRegistry(deps.ErrorDefinitions)

	engine, err := NewEngine(disp, errs, log)
	if err != nil {
		return nil, err
	}

	s := &Service{
		Conf:   conf,
		Logger: log,
		disp:   disp,
		errs:   errs,
		engine: engine,
	}

	if conf.MetricsEnabled {
		registerer := deps.MetricsRegisterer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		s.metrics = NewMetrics(registerer)
		engine.WithMetrics(s.metrics)
	}

	return s, nil
}

// Register binds a handler to a pattern. See Engine.Register.
func (s *Service) Register(pattern string, handler Handler, inputSchema, outputSchema any) error {
	return s.engine.Register(pattern, handler, inputSchema, outputSchema)
}

// Request sends a request and waits for its reply message. See
// Engine.Request.
func (s *Service) Request(ctx context.Context, pattern string, args Payload, callCtx Context) (*envelope.Message, error) {
	return s.engine.Request(ctx, pattern, args, callCtx)
}

// MakeError builds a classified error from a registered code.
func (s *Service) MakeError(codeOrErr any, params errdefs.Params) (*errdefs.ClassifiedError, error) {
	return s.errs.Make(codeOrErr, params)
}

// Errors exposes the service error registry.
func (s *Service) Errors() *errdefs.Registry {
	return s.errs
}

// Dispatcher exposes the underlying dispatcher.
func (s *Service) Dispatcher() dispatcher.Dispatcher {
	return s.disp
}

// Start serves the metrics endpoint when enabled and blocks until the
// context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	var server *http.Server
	if s.Conf.MetricsEnabled && s.Conf.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.Conf.MetricsPort),
			Handler: mux,
		}

		s.Logger.Info("starting metrics server", logging.LogFields{"address": server.Addr})
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("metrics server failed", err, logging.LogFields{"address": server.Addr})
			}
		}()
	}

	<-ctx.Done()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the dispatcher.
func (s *Service) Close() error {
	return s.disp.Close()
}
