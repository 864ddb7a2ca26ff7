// Event bridge — wires the system event bus into the WebSocket hub so
// connected dashboard clients see webhook traffic and dispatch outcomes live.
package api

import (
	"context"

	"github.com/travelmate-bot/travelmate/pkg/bus"
	"github.com/travelmate-bot/travelmate/pkg/logger"
)

// EventBridge connects the system event bus to the WebSocket hub.
type EventBridge struct {
	bus *bus.Bus
	hub *WSHub
}

// NewEventBridge creates a bridge that forwards bus events to WebSocket clients.
func NewEventBridge(b *bus.Bus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: b, hub: hub}
}

// Run starts the forwarding loop on a fan-out tap of the bus.
// Call this in a goroutine — it blocks until ctx is cancelled.
func (eb *EventBridge) Run(ctx context.Context) {
	logger.InfoC("events", "Event bridge started — forwarding bus events to WebSocket")

	tap := eb.bus.SubscribeSystem("event-bridge")

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("events", "Event bridge stopped")
			return
		case raw, ok := <-tap:
			if !ok {
				return
			}
			if evt, ok := raw.(bus.SystemEvent); ok {
				eb.hub.Broadcast(evt.Type, sanitize(evt.Data))
			}
		}
	}
}

// sanitize bounds free-text fields so a long chat message cannot flood
// dashboard clients.
func sanitize(data interface{}) interface{} {
	fields, ok := data.(map[string]interface{})
	if !ok {
		return data
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			out[k] = truncate(s, 200)
			continue
		}
		out[k] = v
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}
