package dispatcher

// Capabilities describes the features supported by a dispatcher backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// Name is the human-readable name of the dispatcher.
	Name string

	// CrossProcess indicates invocations can reach handlers in other
	// processes.
	CrossProcess bool

	// SupportsQueueGroups indicates multiple processes can share a
	// pattern with the substrate balancing invocations between them.
	SupportsQueueGroups bool

	// SupportsDeadline indicates the substrate enforces context
	// deadlines on in-flight invocations rather than relying on the
	// caller to stop waiting.
	SupportsDeadline bool

	// MaxMessageSize is the maximum encoded request size in bytes
	// (0 = unlimited/unknown).
	MaxMessageSize int64
}

// Predefined capability sets for the built-in dispatchers.
var (
	// ChannelCapabilities for the in-process dispatcher.
	ChannelCapabilities = Capabilities{
		Name:                "channel",
		CrossProcess:        false,
		SupportsQueueGroups: false,
		SupportsDeadline:    false,
	}

	// NATSCapabilities for the NATS core request/reply dispatcher.
	NATSCapabilities = Capabilities{
		Name:                "nats",
		CrossProcess:        true,
		SupportsQueueGroups: true,
		SupportsDeadline:    true,
		MaxMessageSize:      1048576, // Default 1MB
	}

	// WatermillCapabilities for the reply-topic dispatcher over a
	// watermill pub/sub pair. Actual limits depend on the injected
	// backend.
	WatermillCapabilities = Capabilities{
		Name:                "watermill",
		CrossProcess:        true,
		SupportsQueueGroups: false,
		SupportsDeadline:    false,
	}
)

// GetCapabilities returns the capabilities for a dispatcher by name, using
// the default registry. Returns a zero Capabilities struct if the
// dispatcher is unknown.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
