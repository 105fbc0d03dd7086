package contracts

import "context"

// BusMessage is one event lifted off the upstream bus, tagged with the
// channel it arrived on so the router can pick a routing mode.
type BusMessage struct {
	Channel string
	Payload []byte
}

// EventBus is the consumer side of the upstream pub/sub bus. Delivery
// is fire-and-forget: events published while nobody is subscribed are
// gone, and there is no replay.
type EventBus interface {
	// Subscribe starts consuming the given channels. The returned
	// channel closes when ctx is cancelled or the bus connection dies.
	Subscribe(ctx context.Context, channels ...string) (<-chan BusMessage, error)
}
