package worker

// Event represents a worker lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the engine. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// NoopPublisher is the default; it drops events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}
