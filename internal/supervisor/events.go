package supervisor

// EventType tags boundary events.
type EventType string

const (
	// EventData carries post-batching output for one instance.
	EventData EventType = "data"
	// EventExit is fired exactly once when an instance's process has been
	// reaped, whether it exited on its own or was disposed.
	EventExit EventType = "exit"
)

// Event is a typed notification delivered over the supervisor's channel.
// Each supervisor owns its own event sink; there is no global registry.
type Event struct {
	Type       EventType
	InstanceID string
	Session    string
	Data       []byte // EventData only
}
