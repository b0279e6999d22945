package types

// Event is the wire-level payload describing a state change. Attributes carry
// stringly-typed metadata so payloads survive JSON round trips unchanged.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
