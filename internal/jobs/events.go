package jobs

// Event types sent to queue subscribers.
const (
	EventAdded     = "added"
	EventStatus    = "status"
	EventProgress  = "progress"
	EventComplete  = "complete"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventMoved     = "moved"
	EventRemoved   = "removed"
	EventQueueIdle = "queue_idle"
)

// Event represents a queue change for SSE streaming.
// Job carries a copy of the affected job; it is nil for queue-level
// events like EventQueueIdle.
type Event struct {
	Type string `json:"type"`
	Job  *Job   `json:"job,omitempty"`
}
