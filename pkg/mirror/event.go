package mirror

import "fmt"

// EventKind enumerates the normalized filesystem notifications the engine
// consumes.
type EventKind int

const (
	EventCreated EventKind = iota
	EventDeleted
	EventModified
	EventRenamed
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "CREATED"
	case EventDeleted:
		return "DELETED"
	case EventModified:
		return "MODIFIED"
	case EventRenamed:
		return "RENAMED"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one normalized change notification from the underlying watch
// mechanism. Path is absolute; NewPath is only set for EventRenamed and
// names the post-rename location.
type Event struct {
	Kind    EventKind
	Path    string
	NewPath string
}

func (e Event) String() string {
	if e.Kind == EventRenamed {
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Path, e.NewPath)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}

// Notifier is the subscription handle to the underlying notification
// mechanism. Implementations deliver a single ordered stream of events per
// watched path until Close is called, after which both channels are closed.
type Notifier interface {
	// Events yields normalized change notifications for the watched root,
	// recursively.
	Events() <-chan Event
	// Errors yields non-fatal errors from the underlying mechanism.
	Errors() <-chan error
	// Close stops the subscription and releases its resources.
	Close() error
}

// NotifierFactory establishes a notification subscription for the given root
// path. A failure to establish the subscription is fatal to StartWatching.
type NotifierFactory func(root string) (Notifier, error)
