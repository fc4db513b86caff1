package events

// Type tags every event pushed to dashboard subscribers.
type Type string

const (
	TypeCallCreated         Type = "call-created"
	TypeCallUpdated         Type = "call-updated"
	TypeExtensionBusy       Type = "extension-busy"
	TypeExtensionReleased   Type = "extension-released"
	TypeMessageCreated      Type = "message-created"
	TypeMessageEdited       Type = "message-edited"
	TypeMessageStatus       Type = "message-status"
	TypeConversationUpdated Type = "conversation-updated"
	TypePing                Type = "ping"
)

// Message is one serialized event ready to be written to a sink.
// Data is serialized exactly once per broadcast, not per subscriber.
type Message struct {
	Type Type
	Data []byte
}

// Broadcaster is the capability the correlator and the ingestion pipeline
// depend on. Payloads must be JSON-serializable.
type Broadcaster interface {
	Broadcast(t Type, payload any)
}
