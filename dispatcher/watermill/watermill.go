// Package watermill provides a dispatcher over a watermill publisher and
// subscriber pair. Requests travel on a topic per pattern; every invocation
// gets its own reply topic, correlated by message metadata.
package watermill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/courier-rpc/courier/dispatcher"
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
	"github.com/courier-rpc/courier/internal/protocol/ids"
	"github.com/courier-rpc/courier/internal/protocol/jsoncodec"
	"github.com/courier-rpc/courier/internal/protocol/logging"
)

// DispatcherName is the name used to register this dispatcher.
const DispatcherName = "watermill"

// Message metadata keys used for request/reply correlation.
const (
	ReplyToMetadataKey       = "reply_to"
	CorrelationIDMetadataKey = "correlation_id"
)

// Factory allows overriding the pub/sub creation for testing.
var Factory = func(log watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, log)
	return pubSub, pubSub
}

// Register registers the watermill dispatcher with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the dispatcher.
func Register() {
	dispatcher.RegisterWithCapabilities(DispatcherName, Build, dispatcher.WatermillCapabilities)
}

// Build creates a watermill dispatcher over an in-memory Go channel pub/sub.
// Other backends can be injected through New.
func Build(ctx context.Context, cfg dispatcher.Config, log logging.ServiceLogger) (dispatcher.Dispatcher, error) {
	var adapter watermill.LoggerAdapter = watermill.NopLogger{}
	if log != nil {
		adapter = logging.NewWatermillAdapter(log)
	}

	pub, sub := Factory(adapter)

	prefix := cfg.GetSubjectPrefix()
	return New(pub, sub, Options{TopicPrefix: prefix}, log), nil
}

// Capabilities returns the capabilities of this dispatcher.
func Capabilities() dispatcher.Capabilities {
	return dispatcher.WatermillCapabilities
}

// Options configure a watermill dispatcher.
type Options struct {
	// TopicPrefix namespaces all topics, e.g. "courier".
	TopicPrefix string
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

// Dispatcher routes invocations over a watermill pub/sub pair.
type Dispatcher struct {
	pub  message.Publisher
	sub  message.Subscriber
	opts Options
	log  logging.ServiceLogger

	mu      sync.Mutex
	cancels []context.CancelFunc
	closed  bool
}

// New wraps an existing publisher/subscriber pair. The logger may be nil.
func New(pub message.Publisher, sub message.Subscriber, opts Options, log logging.ServiceLogger) *Dispatcher {
	return &Dispatcher{pub: pub, sub: sub, opts: opts, log: log}
}

// RequestTopic derives the request topic for a pattern.
func (d *Dispatcher) RequestTopic(pattern string) (string, error) {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return "", err
	}
	tokens := strings.NewReplacer(":", ".", ",", ".").Replace(canonical)
	if d.opts.TopicPrefix == "" {
		return "req." + tokens, nil
	}
	return d.opts.TopicPrefix + ".req." + tokens, nil
}

// replyTopic mints a fresh reply topic for one invocation.
func (d *Dispatcher) replyTopic() string {
	prefix := "reply"
	if d.opts.TopicPrefix != "" {
		prefix = d.opts.TopicPrefix + ".reply"
	}
	return ids.ReplyInbox(prefix)
}

// Add subscribes a handler to the pattern's request topic.
func (d *Dispatcher) Add(pattern string, handler dispatcher.RawHandler) error {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return err
	}
	topic, err := d.RequestTopic(canonical)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	messages, err := d.sub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return &dispatcher.Error{Pattern: canonical, Cause: err}
	}

	d.mu.Lock()
	d.cancels = append(d.cancels, cancel)
	d.mu.Unlock()

	go func() {
		for msg := range messages {
			d.handleRequest(ctx, canonical, handler, msg)
		}
	}()

	if d.log != nil {
		d.log.Debug("handler subscribed", logging.LogFields{
			"pattern": canonical,
			"topic":   topic,
		})
	}
	return nil
}

func (d *Dispatcher) handleRequest(ctx context.Context, pattern string, handler dispatcher.RawHandler, msg *message.Message) {
	defer msg.Ack()

	replyTo := msg.Metadata.Get(ReplyToMetadataKey)
	correlationID := msg.Metadata.Get(CorrelationIDMetadataKey)
	if replyTo == "" {
		if d.log != nil {
			d.log.Warn("request without reply topic dropped", logging.LogFields{"pattern": pattern})
		}
		return
	}

	var args map[string]any
	if len(msg.Payload) > 0 {
		if err := jsoncodec.Unmarshal(msg.Payload, &args); err != nil {
			d.reply(replyTo, correlationID, &frame{Error: &frameError{
				Code:    errdefs.CodeInvalidArgumentShape,
				Message: fmt.Sprintf("undecodable request: %v", err),
			}})
			return
		}
	}

	complete := func(err error, result map[string]any) {
		if err != nil {
			d.reply(replyTo, correlationID, &frame{Error: encodeError(err)})
			return
		}
		d.reply(replyTo, correlationID, &frame{Result: result})
	}

	handler(ctx, args, complete)
}

// Act publishes a request and waits for the correlated reply.
func (d *Dispatcher) Act(ctx context.Context, pattern string, args map[string]any) (map[string]any, error) {
	canonical, err := dispatcher.Canonical(pattern)
	if err != nil {
		return nil, err
	}
	topic, err := d.RequestTopic(canonical)
	if err != nil {
		return nil, err
	}

	data, err := jsoncodec.Marshal(args)
	if err != nil {
		return nil, &dispatcher.Error{Pattern: canonical, Cause: err}
	}

	replyTo := d.replyTopic()
	correlationID := ids.CreateULID()

	// Subscribe to the reply topic before publishing so the reply cannot
	// be missed.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies, err := d.sub.Subscribe(subCtx, replyTo)
	if err != nil {
		return nil, &dispatcher.Error{Pattern: canonical, Cause: err}
	}

	req := message.NewMessage(watermill.NewUUID(), data)
	req.Metadata.Set(ReplyToMetadataKey, replyTo)
	req.Metadata.Set(CorrelationIDMetadataKey, correlationID)

	if err := d.pub.Publish(topic, req); err != nil {
		return nil, &dispatcher.Error{Pattern: canonical, Cause: err}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, &dispatcher.Error{Pattern: canonical, Cause: ctx.Err()}
		case msg, ok := <-replies:
			if !ok {
				return nil, &dispatcher.Error{Pattern: canonical, Cause: errors.New("reply subscription closed")}
			}
			msg.Ack()
			if msg.Metadata.Get(CorrelationIDMetadataKey) != correlationID {
				continue
			}

			var reply frame
			if err := jsoncodec.Unmarshal(msg.Payload, &reply); err != nil {
				return nil, &dispatcher.Error{Pattern: canonical, Cause: err}
			}
			if reply.Error != nil {
				return nil, &errdefs.FatalError{Code: reply.Error.Code, Message: reply.Error.Message}
			}
			return reply.Result, nil
		}
	}
}

// Close cancels all handler subscriptions and closes the pub/sub pair.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cancels := d.cancels
	d.cancels = nil
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	var errs []error
	if err := d.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	// The gochannel pub/sub is one object; closing it twice is harmless
	// but other backends have distinct publisher and subscriber halves.
	if err := d.sub.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) reply(topic, correlationID string, f *frame) {
	data, err := jsoncodec.Marshal(f)
	if err != nil {
		if d.log != nil {
			d.log.Error("failed to encode reply", err, nil)
		}
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(CorrelationIDMetadataKey, correlationID)

	if err := d.pub.Publish(topic, msg); err != nil && d.log != nil {
		d.log.Error("failed to publish reply", err, logging.LogFields{"topic": topic})
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
