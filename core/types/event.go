package types

// Event represents a typed audit record emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Envelope adapts a raw event payload to the events.Event interface.
type Envelope struct {
	Evt *Event
}

// EventType implements events.Event.
func (e Envelope) EventType() string {
	if e.Evt == nil {
		return ""
	}
	return e.Evt.Type
}

// Event returns the wrapped payload.
func (e Envelope) Event() *Event { return e.Evt }
