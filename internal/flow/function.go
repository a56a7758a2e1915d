package flow

import "time"

// DefaultRetries is applied to functions that do not set Retries.
const DefaultRetries = 4

// Throttle delays run starts so that at most Limit runs of a function
// start per Period. Throttled runs stay Queued and are retried later.
type Throttle struct {
	Limit  int
	Period time.Duration
}

// RateLimit drops events beyond Limit per Period instead of queueing
// them: no run is created at all. Key is a dotted path into the event,
// e.g. "event.data.source_id"; events sharing the same value share the
// window.
type RateLimit struct {
	Limit  int
	Period time.Duration
	Key    string
}

// HandlerFunc is the body of a function. Its return value is serialized
// to JSON as the run output.
type HandlerFunc func(fctx *Context) (interface{}, error)

// Function is a unit of work triggered by an event.
type Function struct {
	// ID identifies the function in run records and introspection.
	ID string
	// Name is the human-readable display name.
	Name string
	// EventName is the event that triggers this function.
	EventName string
	// Retries is how many times a failed run is re-attempted. Zero means
	// DefaultRetries; a negative value disables retries.
	Retries   int
	Throttle  *Throttle
	RateLimit *RateLimit
	Handler   HandlerFunc
}
