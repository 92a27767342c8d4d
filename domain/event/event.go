// Package event defines the frames exchanged with gateway connections.
package event

import (
	"encoding/json"
	"market-chat/domain"
)

type Name string

// Client to server.
const (
	JoinListing  Name = "join_listing"
	LeaveListing Name = "leave_listing"
	SendMessage  Name = "send_message"
	Typing       Name = "typing"
	StopTyping   Name = "stop_typing"
)

// Server to client.
const (
	NewMessage     Name = "new_message"
	MessageSent    Name = "message_sent"
	MessageUpdated Name = "message_updated"
	UserTyping     Name = "user_typing"
	Error          Name = "error"
)

// Inbound is a frame read from a connection. Data is decoded by the
// handler of the named event.
type Inbound struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a frame written to a connection.
type Event struct {
	Event Name `json:"event"`
	Data  any  `json:"data"`
}

type TypingPayload struct {
	ListingID string `json:"listingId"`
	UserID    string `json:"userId"`
	Typing    bool   `json:"typing"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func Message(name Name, payload domain.ChatMessagePayload) Event {
	return Event{Event: name, Data: payload}
}

func TypingEvent(listingID, userID string, typing bool) Event {
	return Event{Event: UserTyping, Data: TypingPayload{ListingID: listingID, UserID: userID, Typing: typing}}
}

func ErrorEvent(message string) Event {
	return Event{Event: Error, Data: ErrorPayload{Message: message}}
}
