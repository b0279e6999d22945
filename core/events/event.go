package events

// Event is a structured state change emitted by a native engine.
type Event interface {
	EventType() string
}

// Emitter forwards events to downstream subscribers (RPC, logs, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding everything. Engines default
// to it so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
