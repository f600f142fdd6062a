package resource

// Handle is an opaque, stable reference to an entry in a Table.
// The high 32 bits select the shard, the low 32 bits the slot plus one.
// Handle 0 is reserved and always invalid.
type Handle uint64

// Event types for entry lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventUpdated
	EventDropped
	EventBorrowed
	EventBorrowReturned
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventDropped:
		return "dropped"
	case EventBorrowed:
		return "borrowed"
	case EventBorrowReturned:
		return "borrow_returned"
	default:
		return "unknown"
	}
}

// Event represents an entry lifecycle event.
type Event struct {
	Value  any
	Key    string
	Handle Handle
	Type   EventType
}

// Observer receives notifications about entry lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnResourceEvent calls f(e).
func (f ObserverFunc) OnResourceEvent(e Event) {
	f(e)
}

// Dropper is optionally implemented by values that need cleanup when dropped.
type Dropper interface {
	Drop()
}

func makeHandle(shard, slot uint32) Handle {
	return Handle(uint64(shard)<<32 | uint64(slot+1))
}

func (h Handle) split() (shard, slot uint32, ok bool) {
	if h == 0 {
		return 0, 0, false
	}
	low := uint32(h)
	if low == 0 {
		return 0, 0, false
	}
	return uint32(h >> 32), low - 1, true
}
