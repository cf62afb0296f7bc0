package protocol

import (
	"github.com/courier-rpc/courier/internal/protocol/envelope"
)

// Breakout short-circuits a handler when a nested request it depends on has
// failed. Handlers return it like any other error; the outer boundary
// recognizes it and relays the carried message as the handler's own failure
// instead of treating it as fatal.
type Breakout struct {
	// Message is the failed message of the nested request.
	Message *envelope.Message
}

// NewBreakout wraps a failed message for propagation.
func NewBreakout(msg *envelope.Message) *Breakout {
	return &Breakout{Message: msg}
}

func (b *Breakout) Error() string {
	if b.Message == nil {
		return "courier: nested request failed"
	}
	errs := b.Message.Errors()
	if len(errs) == 0 {
		return "courier: nested request failed"
	}
	return "courier: nested request failed: " + errs[0].Error()
}
