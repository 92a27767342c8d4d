// Package domain contains core concepts of the marketplace messaging core.
// This file defines the persisted ChatMessage and its ordering rules.
// Messages are immutable once stored, except for the read flag.
package domain

import (
	"strconv"
	"time"
)

// MessageID is assigned by the message store from a monotonic sequence.
type MessageID uint64

func (id MessageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseMessageID parses the decimal form produced by MessageID.String.
func ParseMessageID(s string) (MessageID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return MessageID(v), nil
}

// ChatMessage is one message between two users, scoped to a listing.
type ChatMessage struct {
	ID        MessageID
	Sender    string
	Receiver  string
	ListingID string
	Body      string
	SentAt    time.Time
	Read      bool
}

// NewMessage is a validated message that has not been persisted yet.
// SentAt and ID are assigned by the store.
type NewMessage struct {
	Sender    string
	Receiver  string
	ListingID string
	Body      string
}

// Involves reports whether userID is the sender or the receiver.
func (m ChatMessage) Involves(userID string) bool {
	return m.Sender == userID || m.Receiver == userID
}

// Counterpart returns the party of the message that is not userID.
func (m ChatMessage) Counterpart(userID string) string {
	if m.Sender == userID {
		return m.Receiver
	}
	return m.Sender
}

// After orders messages by SentAt, ties broken by ID.
func (m ChatMessage) After(other ChatMessage) bool {
	if !m.SentAt.Equal(other.SentAt) {
		return m.SentAt.After(other.SentAt)
	}
	return m.ID > other.ID
}
