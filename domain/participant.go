// Package domain contains core concepts of the marketplace messaging core.
// This file defines the user profile and the denormalized wire payloads.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// UserProfile carries the minimal display fields of a marketplace user.
type UserProfile struct {
	ID        string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

type ParticipantPayload struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// ChatMessagePayload is the canonical shape of a message on the wire.
// Sender and receiver are joined with the user directory at emit time.
type ChatMessagePayload struct {
	ID        string             `json:"id"`
	Sender    ParticipantPayload `json:"sender"`
	Receiver  ParticipantPayload `json:"receiver"`
	ListingID string             `json:"listingId"`
	Message   string             `json:"message"`
	SentAt    time.Time          `json:"sentAt"`
	Read      bool               `json:"read"`
}

func ToParticipant(id string, profile UserProfile, found bool) ParticipantPayload {
	if !found {
		return ParticipantPayload{ID: id}
	}
	return ParticipantPayload{ID: id, FirstName: profile.FirstName, LastName: profile.LastName}
}
