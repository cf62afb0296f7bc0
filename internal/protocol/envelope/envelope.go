// Package envelope implements the protocol's message envelope: the
// success/failure/payload/errors/context structure exchanged between
// handlers, and its wire-shape projection.
package envelope

import (
	"github.com/courier-rpc/courier/internal/protocol/errdefs"
)

// Message is the envelope for one request/response exchange. It is
// constructed fresh per exchange, mutated only through its builder-style
// setters, and treated as immutable once exported.
type Message struct {
	successful bool
	payload    any
	errs       []*errdefs.ClassifiedError
	context    map[string]any
}

// Exported is the wire-shape projection of a Message: a plain structural
// value safe for transport serialization. Errors is empty iff Successful.
type Exported struct {
	Successful bool                       `json:"successful"`
	Payload    any                        `json:"payload,omitempty"`
	Errors     []*errdefs.ClassifiedError `json:"errors"`
	Context    map[string]any             `json:"context,omitempty"`
}

// New constructs a successful message with a nil payload and no errors.
func New() *Message {
	return &Message{successful: true}
}

// From wraps an arbitrary source into a Message. A *Message is returned
// unchanged; an Exported value or a decoded wire map is imported
// field-by-field; nil yields a fresh successful message.
func From(source any) *Message {
	switch v := source.(type) {
	case nil:
		return New()
	case *Message:
		if v == nil {
			return New()
		}
		return v
	case Exported:
		return Import(v)
	case *Exported:
		if v == nil {
			return New()
		}
		return Import(*v)
	case map[string]any:
		return importMap(v)
	default:
		return New().SetPayload(v)
	}
}

// Import reconstructs a Message from its wire shape. Round-trip contract:
// Import(m.Export()) is observationally equivalent to m. A wire value that
// claims failure without naming an error gets the generic error stamped so
// the errors-iff-failed invariant holds after import.
func Import(exp Exported) *Message {
	m := New()
	for _, ce := range exp.Errors {
		if ce != nil {
			m.AddError(ce)
		}
	}
	if m.successful && !exp.Successful {
		m.AddError(genericError())
	}
	if m.successful {
		m.payload = exp.Payload
	}
	if len(exp.Context) > 0 {
		m.context = exp.Context
	}
	return m
}

func importMap(raw map[string]any) *Message {
	m := New()

	if errs, ok := raw["errors"].([]any); ok {
		for _, e := range errs {
			em, ok := e.(map[string]any)
			if !ok {
				continue
			}
			code, _ := em["code"].(string)
			msg, _ := em["message"].(string)
			marker, _ := em["marker"].(string)
			if marker == "" {
				marker = errdefs.Marker
			}
			m.AddError(&errdefs.ClassifiedError{Code: code, Message: msg, Marker: marker})
		}
	}

	if m.successful {
		if s, ok := raw["successful"].(bool); ok && !s {
			m.AddError(genericError())
		}
	}
	if m.successful {
		m.payload = raw["payload"]
	}

	if ctx, ok := raw["context"].(map[string]any); ok && len(ctx) > 0 {
		m.context = ctx
	}

	return m
}

func genericError() *errdefs.ClassifiedError {
	return &errdefs.ClassifiedError{
		Code:    errdefs.CodeUnknown,
		Message: "UNKNOWN MESSAGE",
		Marker:  errdefs.Marker,
	}
}

// SetPayload stores the payload. It does not resurrect a failed message.
func (m *Message) SetPayload(payload any) *Message {
	m.payload = payload
	return m
}

// AddError appends a classified error and permanently flips the message to
// failed. There is no unset operation. A missing marker is stamped.
func (m *Message) AddError(ce *errdefs.ClassifiedError) *Message {
	if ce == nil {
		return m
	}
	if ce.Marker == "" {
		ce = &errdefs.ClassifiedError{Code: ce.Code, Message: ce.Message, Marker: errdefs.Marker}
	}
	m.errs = append(m.errs, ce)
	m.successful = false
	return m
}

// SetContext attaches the opaque cross-cutting context. The map is carried,
// never interpreted.
func (m *Message) SetContext(ctx map[string]any) *Message {
	m.context = ctx
	return m
}

// IsSuccessful reports whether the message carries no errors.
func (m *Message) IsSuccessful() bool {
	return m.successful
}

// Payload returns the payload, nil for failed messages.
func (m *Message) Payload() any {
	if !m.successful {
		return nil
	}
	return m.payload
}

// Errors returns the ordered error list. Empty iff the message is successful.
func (m *Message) Errors() []*errdefs.ClassifiedError {
	return m.errs
}

// Context returns the opaque context map carried by the message.
func (m *Message) Context() map[string]any {
	return m.context
}

// Export projects the message onto its wire shape. A failed message exports
// without a payload; Errors is never nil.
func (m *Message) Export() Exported {
	exp := Exported{
		Successful: m.successful,
		Errors:     make([]*errdefs.ClassifiedError, len(m.errs)),
		Context:    m.context,
	}
	copy(exp.Errors, m.errs)
	if m.successful {
		exp.Payload = m.payload
	}
	return exp
}

// ToMap renders the wire shape as a plain map for dispatchers that complete
// with generic result values. The structure matches the JSON encoding of
// Exported.
func (exp Exported) ToMap() map[string]any {
	errs := make([]any, len(exp.Errors))
	for i, ce := range exp.Errors {
		errs[i] = map[string]any{
			"code":    ce.Code,
			"message": ce.Message,
			"marker":  ce.Marker,
		}
	}
	out := map[string]any{
		"successful": exp.Successful,
		"errors":     errs,
	}
	if exp.Successful && exp.Payload != nil {
		out["payload"] = exp.Payload
	}
	if len(exp.Context) > 0 {
		out["context"] = exp.Context
	}
	return out
}
