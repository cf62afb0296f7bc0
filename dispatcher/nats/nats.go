// Package nats provides a NATS core request/reply dispatcher for courier.
// Patterns map to subjects, handlers join a queue group so multiple
// processes can share the load.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/courier-rpc/courier/dispatcher"
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
	"github.com/courier-rpc/courier/internal/protocol/jsoncodec"
	"github.com/courier-rpc/courier/internal/protocol/logging"
)

// DispatcherName is the name used to register this dispatcher.
const DispatcherName = "nats"

// ConnectFactory allows overriding the connection creation for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

// Register registers the NATS dispatcher with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the dispatcher.
func Register() {
	dispatcher.RegisterWithCapabilities(DispatcherName, Build, dispatcher.NATSCapabilities)
}

// Build creates a new NATS dispatcher from the service configuration.
func Build(ctx context.Context, cfg dispatcher.Config, log logging.ServiceLogger) (dispatcher.Dispatcher, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return nil, fmt.Errorf("dispatcher: NATS URL is required")
	}

	nc, err := Connect(url, cfg.GetNATSName(), log)
	if err != nil {
		return nil, err
	}

	return New(nc, Options{
		SubjectPrefix: cfg.GetSubjectPrefix(),
		QueueGroup:    cfg.GetNATSQueueGroup(),
		OwnsConn:      true,
	}, log), nil
}

// Capabilities returns the capabilities of this dispatcher.
func Capabilities() dispatcher.Capabilities {
	return dispatcher.NATSCapabilities
}

// Connect opens a NATS connection with sensible reconnect behavior.
func Connect(url, name string, log logging.ServiceLogger) (*nats.Conn, error) {
	nc, err := ConnectFactory(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if log != nil {
				log.Warn("nats disconnected", logging.LogFields{"error": fmt.Sprint(err)})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if log != nil {
				log.Info("nats reconnected", logging.LogFields{"url": nc.ConnectedUrl()})
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if log != nil {
				log.Info("nats connection closed", nil)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Options configure a NATS dispatcher.
type Options struct {
	// SubjectPrefix namespaces all subjects, e.g. "courier".
	SubjectPrefix string

	// QueueGroup is the queue group handlers subscribe under. Empty
	// disables load balancing.
	QueueGroup string

	// OwnsConn makes Close drain the connection.
	OwnsConn bool
}

// frame is the wire format of one reply. Exactly one of Error and Result
// is set.
type frame struct {
	Error  *frameError    `json:"error,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Dispatcher routes invocations over NATS core request/reply.
type Dispatcher struct {
	nc   *nats.Conn
	opts Options
	log  logging.ServiceLogger
	subs []*nats.Subscription
}

// New wraps an existing connection. The logger may be nil.
func New(nc *nats.Conn, opts Options, log logging.ServiceLogger) *Dispatcher {
	return &Dispatcher{nc: nc, opts: opts, log: log}
}

// Subject derives the NATS subject for a pattern: the canonical pattern
// with its separators replaced by subject token dots, under the prefix.
// "role:math,cmd:add" with prefix "courier" becomes
// "courier.cmd.add.role.math".
func (d *Dispatcher) Subject(pattern string) (string, error) {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return "", err
	}
	tokens := strings.NewReplacer(":", ".", ",", ".").Replace(canonical)
	if d.opts.SubjectPrefix == "" {
		return tokens, nil
	}
	return d.opts.SubjectPrefix + "." + tokens, nil
}

// Add subscribes a handler for a pattern on its derived subject.
func (d *Dispatcher) Add(pattern string, handler dispatcher.RawHandler) error {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return err
	}
	subject, err := d.Subject(canonical)
	if err != nil {
		return err
	}

	callback := func(msg *nats.Msg) {
		var args map[string]any
		if len(msg.Data) > 0 {
			if err := jsoncodec.Unmarshal(msg.Data, &args); err != nil {
				d.reply(msg, &frame{Error: &frameError{
					Code:    errdefs.CodeInvalidArgumentShape,
					Message: fmt.Sprintf("undecodable request: %v", err),
				}})
				return
			}
		}

		complete := func(err error, result map[string]any) {
			if err != nil {
				d.reply(msg, &frame{Error: encodeError(err)})
				return
			}
			d.reply(msg, &frame{Result: result})
		}

		handler(context.Background(), args, complete)
	}

	var sub *nats.Subscription
	if d.opts.QueueGroup != "" {
		sub, err = d.nc.QueueSubscribe(subject, d.opts.QueueGroup, callback)
	} else {
		sub, err = d.nc.Subscribe(subject, callback)
	}
	if err != nil {
		return &dispatcher.Error{Pattern: canonical, Cause: err}
	}

	d.subs = append(d.subs, sub)
	if d.log != nil {
		d.log.Debug("handler subscribed", logging.LogFields{
			"pattern": canonical,
			"subject": subject,
			"queue":   d.opts.QueueGroup,
		})
	}
	return nil
}

// Act publishes a request on the pattern's subject and waits for the reply.
func (d *Dispatcher) Act(ctx context.Context, pattern string, args map[string]any) (map[string]any, error) {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return nil, err
	}
	subject, err := d.Subject(canonical)
	if err != nil {
		return nil, err
	}

	data, err := jsoncodec.Marshal(args)
	if err != nil {
		return nil, &dispatcher.Error{Pattern: canonical, Cause: err}
	}

	msg, err := d.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, &dispatcher.Error{Pattern: canonical, Cause: err}
	}

	var reply frame
	if err := jsoncodec.Unmarshal(msg.Data, &reply); err != nil {
		return nil, &dispatcher.Error{Pattern: canonical, Cause: err}
	}
	if reply.Error != nil {
		return nil, &errdefs.FatalError{Code: reply.Error.Code, Message: reply.Error.Message}
	}
	return reply.Result, nil
}

// Close unsubscribes all handlers and, when the dispatcher owns the
// connection, drains it.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, sub := range d.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	d.subs = nil

	if d.opts.OwnsConn && d.nc != nil && !d.nc.IsClosed() {
		if err := d.nc.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) reply(msg *nats.Msg, f *frame) {
	data, err := jsoncodec.Marshal(f)
	if err != nil {
		if d.log != nil {
			d.log.Error("failed to encode reply", err, nil)
		}
		return
	}
	if err := msg.Respond(data); err != nil && d.log != nil {
		d.log.Error("failed to send reply", err, logging.LogFields{"subject": msg.Subject})
	}
}

func encodeError(err error) *frameError {
	var fatal *errdefs.FatalError
	if errors.As(err, &fatal) {
		return &frameError{Code: fatal.Code, Message: fatal.Message}
	}
	var classified *errdefs.ClassifiedError
	if errors.As(err, &classified) {
		return &frameError{Code: classified.Code, Message: classified.Message}
	}
	return &frameError{Code: errdefs.CodeUnknown, Message: err.Error()}
}
