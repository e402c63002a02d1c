package schema

// EventKind identifies a structural change reported by a host sequence.
type EventKind uint8

const (
	EventInserted EventKind = iota + 1
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventInserted:
		return "inserted"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event describes one structural change of a host sequence.
//
// Insertions carry the index of the first inserted element. Deletions carry
// only the number of removed elements (Index is -1): hosts report that a
// deletion happened, consumers locate it themselves.
type Event struct {
	Kind  EventKind
	Index int
	Count int
}

// Host is the ordered, mutable message list of one chat.
//
// Identity is a token that changes when the host switches to a different
// chat. Version increases by one on every structural mutation (insert or
// delete); flag updates such as SetSystem do not bump it.
type Host interface {
	Identity() string
	Version() uint64
	Len() int
	IDs() []string
	IndexOf(id string) int
	// Messages returns copies of the messages in [start, end], clamped to bounds.
	Messages(start, end int) []Message
	// SetSystem updates the hidden flag of one message and reports whether it changed.
	SetSystem(index int, isSystem bool) bool
}

// Observable hosts push structural events to subscribers. The returned
// function removes the subscription.
type Observable interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}
