package models

import (
	"strings"
	"time"
)

// Turn is one message unit in a transcript, authored either by the user or by the model. User turns are
// created closed and never change. Assistant turns stay open while their reply is streaming, their text
// only ever grows, and they are closed once the stream completes or is interrupted.
type Turn struct {
	ID   string
	Role Role
	Text string

	// Images holds the attached images as data URIs, exactly as the browser produced them.
	Images []string

	Timestamp time.Time

	// Closed reports that the turn no longer accepts fragments.
	Closed bool
	// Interrupted is set on an assistant turn that was closed by a cancellation or a failed stream,
	// rather than by a completed one. Its Text holds whatever arrived before that.
	Interrupted bool
}

// OutgoingMessage is the projection of a Turn sent to the model endpoint.
type OutgoingMessage struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Role represents the author of a turn.
type Role string

const (
	// RoleUser marks a turn typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn generated by the model.
	RoleAssistant Role = "assistant"
)

// IsUser reports whether the turn was authored by the user.
func (t Turn) IsUser() bool {
	return t.Role == RoleUser
}

// Outgoing projects the turn into the message sent over the wire. Images are re-encoded by stripping the
// data URI prefix, leaving the raw base64 payload.
func (t Turn) Outgoing() OutgoingMessage {
	msg := OutgoingMessage{
		Role:    t.Role,
		Content: t.Text,
	}
	if len(t.Images) == 0 {
		return msg
	}
	msg.Images = make([]string, len(t.Images))
	for i, img := range t.Images {
		msg.Images[i] = StripDataURI(img)
	}
	return msg
}

// Outgoing projects every turn in order.
func Outgoing(turns []Turn) []OutgoingMessage {
	msgs := make([]OutgoingMessage, len(turns))
	for i, t := range turns {
		msgs[i] = t.Outgoing()
	}
	return msgs
}

// StripDataURI returns the payload of a data URI, that is everything after the first comma. Values
// without a comma are returned unchanged.
func StripDataURI(uri string) string {
	_, payload, found := strings.Cut(uri, ",")
	if !found {
		return uri
	}
	return payload
}
