// Package line binds the gateway to the LINE Messaging API: webhook signature
// verification, envelope parsing, and the reply/push send primitives.
package line

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadKind distinguishes the message payloads the gateway handles.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadAudio PayloadKind = "audio"
)

// Event is one normalized inbound message event. Immutable after parse;
// discarded once dispatched.
type Event struct {
	// SourceID is the durable recipient identifier (user, group or room).
	// Valid for push sends indefinitely.
	SourceID string

	// ReplyToken is the single-use, short-lived reply capability.
	ReplyToken string

	Kind      PayloadKind
	Text      string // trimmed text body; empty for audio
	MessageID string // platform message id; used to fetch audio content

	WebhookEventID string
	Timestamp      int64
}

// webhook envelope wire format (the subset the gateway consumes)

type callbackEnvelope struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type           string         `json:"type"`
	ReplyToken     string         `json:"replyToken"`
	WebhookEventID string         `json:"webhookEventId"`
	Timestamp      int64          `json:"timestamp"`
	Source         webhookSource  `json:"source"`
	Message        webhookMessage `json:"message"`
}

type webhookSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
	RoomID  string `json:"roomId"`
}

type webhookMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseEvents decodes a webhook body into normalized message events.
// Non-message events (follow, join, postback, ...) are skipped; the gateway
// only answers messages.
func ParseEvents(body []byte) ([]Event, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}

	events := make([]Event, 0, len(envelope.Events))
	for _, we := range envelope.Events {
		if we.Type != "message" {
			continue
		}

		ev := Event{
			SourceID:       we.Source.recipientID(),
			ReplyToken:     we.ReplyToken,
			MessageID:      we.Message.ID,
			WebhookEventID: we.WebhookEventID,
			Timestamp:      we.Timestamp,
		}

		switch we.Message.Type {
		case "text":
			ev.Kind = PayloadText
			ev.Text = strings.TrimSpace(we.Message.Text)
		case "audio":
			ev.Kind = PayloadAudio
		default:
			continue
		}

		if ev.SourceID == "" {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// recipientID picks the durable push target for the event source.
func (s webhookSource) recipientID() string {
	switch s.Type {
	case "group":
		return s.GroupID
	case "room":
		return s.RoomID
	default:
		return s.UserID
	}
}
