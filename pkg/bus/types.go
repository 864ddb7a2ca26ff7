package bus

// SystemEvent is a typed event flowing through the bus for observability.
// Used for webhook receipt, dispatch lifecycle and delivery outcomes.
type SystemEvent struct {
	Type   string      `json:"type"`   // e.g. "event.received", "reply.sent"
	Source string      `json:"source"` // e.g. "webhook", "dispatch"
	Data   interface{} `json:"data"`
}

// Event types published by the gateway.
const (
	EventReceived     = "event.received"
	EventRejected     = "dispatch.rejected"
	EventHandleFailed = "dispatch.failed"
	EventReplySent    = "reply.sent"
	EventPushSent     = "push.sent"
)
