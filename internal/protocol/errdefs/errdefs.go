// Package errdefs implements the classified-error model: a registry of
// developer-defined error definitions, parameterized construction of
// classified errors, marker-based classification that survives a
// serialization boundary, and normalization of arbitrary fatal values into a
// uniform {code, message} shape.
package errdefs

import (
	"errors"
	"fmt"
)

// Marker is the discriminant stamped on every classified error. It travels
// on the wire, so classification works even after type identity is lost.
const Marker = "protocol-error"

// Codes owned by this layer. They are always present in a Registry,
// regardless of what definitions the application supplies.
const (
	CodeUnknownErrorCode       = "UnknownErrorCode"
	CodeInvalidArgumentShape   = "InvalidArgumentShape"
	CodeHandlerNotAsynchronous = "HandlerNotAsynchronous"
	CodeSchemaValidationFailed = "SchemaValidationFailed"

	// CodeUnknown is used when a fatal value carries no code of its own.
	CodeUnknown = "UNKNOWN CODE"

	// messageUnknown is used when a fatal value carries no message of its own.
	messageUnknown = "UNKNOWN MESSAGE"
)

// Params carries the interpolation parameters for a message template.
type Params map[string]any

// Template renders a message for a set of parameters.
type Template func(p Params) string

// Text returns a Template that ignores its parameters. Convenience for
// definitions with a fixed message.
func Text(msg string) Template {
	return func(Params) string { return msg }
}

// Definition is a single static error definition. Definitions are loaded
// into a Registry once at startup and never mutated afterwards.
type Definition struct {
	Code    string
	Message Template
}

// ClassifiedError is a registry-backed error carrying a stable code, an
// interpolated message, and the protocol marker. It is created per failure
// occurrence and never mutated after construction.
type ClassifiedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Marker  string `json:"marker"`
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode exposes the code for callers that only see an error value.
func (e *ClassifiedError) ErrorCode() string { return e.Code }

// FatalError is the uniform shape every fatal condition is normalized into
// before it crosses the handler boundary towards the dispatcher.
type FatalError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode exposes the code for callers that only see an error value.
func (e *FatalError) ErrorCode() string { return e.Code }

// codeCarrier is satisfied by errors that expose a stable code, including
// ClassifiedError and FatalError themselves.
type codeCarrier interface {
	ErrorCode() string
}

// dispatcherWrapped is satisfied by errors that the dispatcher substrate
// re-wrapped around an original cause. The dispatcher package's Error type
// implements it; matching is structural so errdefs stays dependency-free.
type dispatcherWrapped interface {
	FromDispatcher() bool
	Unwrap() error
}

// Registry holds the immutable set of error definitions. It is populated
// once via NewRegistry and injected into every component that constructs
// classified errors.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry builds a registry from the supplied definitions merged over
// the built-in set. Application definitions win on code collisions. The
// input map is copied; later mutation of it has no effect.
func NewRegistry(defs map[string]Definition) *Registry {
	merged := make(map[string]Definition, len(defs)+8)
	for code, def := range builtin() {
		merged[code] = def
	}
	for code, def := range defs {
		if def.Code == "" {
			def.Code = code
		}
		merged[code] = def
	}
	return &Registry{defs: merged}
}

func builtin() map[string]Definition {
	return map[string]Definition{
		CodeUnknownErrorCode: {
			Code: CodeUnknownErrorCode,
			Message: func(p Params) string {
				return fmt.Sprintf("no error definition registered for code %v", p["code"])
			},
		},
		CodeInvalidArgumentShape: {
			Code:    CodeInvalidArgumentShape,
			Message: Text("request arguments must be a non-nil object"),
		},
		CodeHandlerNotAsynchronous: {
			Code:    CodeHandlerNotAsynchronous,
			Message: Text("handler must be an asynchronous function"),
		},
		CodeSchemaValidationFailed: {
			Code: CodeSchemaValidationFailed,
			Message: func(p Params) string {
				return fmt.Sprintf("payload does not conform to schema: %v", p["details"])
			},
		},
		CodeUnknown: {
			Code:    CodeUnknown,
			Message: Text(messageUnknown),
		},
	}
}

// Has reports whether a definition exists for the given code.
func (r *Registry) Has(code string) bool {
	_, ok := r.defs[code]
	return ok
}

// Codes returns the registered codes. The order is unspecified.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.defs))
	for code := range r.defs {
		codes = append(codes, code)
	}
	return codes
}

// Make resolves codeOrErr to a definition and constructs a ClassifiedError
// with the interpolated message. codeOrErr may be a bare code string, a
// *ClassifiedError, or any error exposing ErrorCode(). Looking up an unknown
// code is a programming error: Make fails with a ClassifiedError carrying
// CodeUnknownErrorCode.
func (r *Registry) Make(codeOrErr any, params Params) (*ClassifiedError, error) {
	code, ok := resolveCode(codeOrErr)
	if !ok {
		return nil, r.unknownCode(codeOrErr)
	}

	def, found := r.defs[code]
	if !found {
		return nil, r.unknownCode(code)
	}

	msg := ""
	if def.Message != nil {
		if params == nil {
			params = Params{}
		}
		msg = def.Message(params)
	}

	return &ClassifiedError{
		Code:    def.Code,
		Message: msg,
		Marker:  Marker,
	}, nil
}

// MustMake is Make for wiring code where an unknown code means the process
// is misconfigured. It panics on failure.
func (r *Registry) MustMake(codeOrErr any, params Params) *ClassifiedError {
	ce, err := r.Make(codeOrErr, params)
	if err != nil {
		panic(fmt.Sprintf("courier: %v", err))
	}
	return ce
}

func (r *Registry) unknownCode(code any) error {
	def := r.defs[CodeUnknownErrorCode]
	return &ClassifiedError{
		Code:    CodeUnknownErrorCode,
		Message: def.Message(Params{"code": code}),
		Marker:  Marker,
	}
}

func resolveCode(codeOrErr any) (string, bool) {
	switch v := codeOrErr.(type) {
	case string:
		return v, v != ""
	case *ClassifiedError:
		return v.Code, v != nil && v.Code != ""
	case codeCarrier:
		code := v.ErrorCode()
		return code, code != ""
	default:
		return "", false
	}
}

// IsClassified reports whether x is a classified error. It recognizes the
// concrete type, errors wrapping it, and the structural marker shape a
// classified error decodes into after crossing a serialization boundary.
func IsClassified(x any) bool {
	switch v := x.(type) {
	case nil:
		return false
	case *ClassifiedError:
		return v != nil
	case ClassifiedError:
		return true
	case error:
		var ce *ClassifiedError
		return errors.As(v, &ce)
	case map[string]any:
		marker, _ := v["marker"].(string)
		return marker == Marker
	default:
		return false
	}
}

// AsClassified coerces any error into a ClassifiedError. Classified errors
// pass through unchanged; everything else becomes a generic classified error
// with CodeUnknown and the error text as message.
func AsClassified(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClassifiedError{
		Code:    CodeUnknown,
		Message: err.Error(),
		Marker:  Marker,
	}
}

// NormalizeFatal turns anything raised as a fatal condition into an error
// guaranteed to carry a code and a message. Policy, in order: classified
// errors pass through unchanged; dispatcher-wrapped errors are unwrapped and
// normalized from their original cause; everything else is coerced, reading
// a code and message where present and falling back to CodeUnknown and
// "UNKNOWN MESSAGE".
func NormalizeFatal(x any) error {
	if x == nil {
		return &FatalError{Code: CodeUnknown, Message: messageUnknown}
	}

	if err, ok := x.(error); ok {
		var ce *ClassifiedError
		if errors.As(err, &ce) {
			return ce
		}
		if wrapped, ok := err.(dispatcherWrapped); ok && wrapped.FromDispatcher() {
			if cause := wrapped.Unwrap(); cause != nil {
				return NormalizeFatal(cause)
			}
		}
		var fe *FatalError
		if errors.As(err, &fe) {
			return fe
		}
		return &FatalError{Code: coerceCode(err), Message: err.Error()}
	}

	return coerceValue(x)
}

func coerceCode(err error) string {
	if carrier, ok := err.(codeCarrier); ok {
		if code := carrier.ErrorCode(); code != "" {
			return code
		}
	}
	return CodeUnknown
}

func coerceValue(x any) error {
	switch v := x.(type) {
	case string:
		return &FatalError{Code: CodeUnknown, Message: v}
	case map[string]any:
		code, _ := v["code"].(string)
		if code == "" {
			code = CodeUnknown
		}
		msg, _ := v["message"].(string)
		if msg == "" {
			msg = messageUnknown
		}
		return &FatalError{Code: code, Message: msg}
	default:
		return &FatalError{Code: CodeUnknown, Message: fmt.Sprintf("%v", v)}
	}
}
