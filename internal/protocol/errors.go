package protocol

import "errors"

// Sentinel errors returned by the protocol layer.
var (
	// ErrConfigRequired indicates a nil configuration was supplied.
	ErrConfigRequired = errors.New("courier: config is required")

	// ErrLoggerRequired indicates a nil logger was supplied.
	ErrLoggerRequired = errors.New("courier: logger is required")

	// ErrDispatcherRequired indicates a nil dispatcher was supplied.
	ErrDispatcherRequired = errors.New("courier: dispatcher is required")

	// ErrPatternRequired indicates an empty pattern was supplied.
	ErrPatternRequired = errors.New("courier: pattern is required")

	// ErrHandlerRequired indicates a nil handler was supplied, which would
	// leave the request without an asynchronous completion path.
	ErrHandlerRequired = errors.New("courier: handler is required")
)
