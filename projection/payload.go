package projection

import (
	"log/slog"
	"market-chat/domain"
	"market-chat/repositories"

	"github.com/samber/lo"
)

// ConversationView is the wire shape of a Conversation.
type ConversationView struct {
	ListingID   string                    `json:"listingId"`
	OtherUser   domain.ParticipantPayload `json:"otherUser"`
	LastMessage domain.ChatMessagePayload `json:"lastMessage"`
	UnreadCount int                       `json:"unreadCount"`
}

// PayloadBuilder joins messages with the user directory at emit time.
// A directory failure degrades participants to their bare id.
type PayloadBuilder struct {
	users repositories.IUserRepository
	log   *slog.Logger
}

func NewPayloadBuilder(users repositories.IUserRepository, log *slog.Logger) *PayloadBuilder {
	return &PayloadBuilder{users: users, log: log.With("component", "payload_builder")}
}

func (b *PayloadBuilder) Message(m domain.ChatMessage) domain.ChatMessagePayload {
	return b.Messages([]domain.ChatMessage{m})[0]
}

func (b *PayloadBuilder) Messages(messages []domain.ChatMessage) []domain.ChatMessagePayload {
	ids := lo.Uniq(lo.FlatMap(messages, func(m domain.ChatMessage, _ int) []string {
		return []string{m.Sender, m.Receiver}
	}))
	profiles := b.profiles(ids)
	return lo.Map(messages, func(m domain.ChatMessage, _ int) domain.ChatMessagePayload {
		return toPayload(m, profiles)
	})
}

func (b *PayloadBuilder) Conversations(conversations []Conversation) []ConversationView {
	ids := lo.Uniq(lo.FlatMap(conversations, func(c Conversation, _ int) []string {
		return []string{c.LastMessage.Sender, c.LastMessage.Receiver}
	}))
	profiles := b.profiles(ids)
	return lo.Map(conversations, func(c Conversation, _ int) ConversationView {
		profile, found := profiles[c.Counterpart]
		return ConversationView{
			ListingID:   c.ListingID,
			OtherUser:   domain.ToParticipant(c.Counterpart, profile, found),
			LastMessage: toPayload(c.LastMessage, profiles),
			UnreadCount: c.UnreadCount,
		}
	})
}

func (b *PayloadBuilder) profiles(ids []string) map[string]domain.UserProfile {
	if b.users == nil || len(ids) == 0 {
		return nil
	}
	profiles, err := b.users.GetUsers(ids...)
	if err != nil {
		b.log.Warn("User directory unavailable, sending bare participants", "error", err)
		return nil
	}
	return profiles
}

func toPayload(m domain.ChatMessage, profiles map[string]domain.UserProfile) domain.ChatMessagePayload {
	sender, senderFound := profiles[m.Sender]
	receiver, receiverFound := profiles[m.Receiver]
	return domain.ChatMessagePayload{
		ID:        m.ID.String(),
		Sender:    domain.ToParticipant(m.Sender, sender, senderFound),
		Receiver:  domain.ToParticipant(m.Receiver, receiver, receiverFound),
		ListingID: m.ListingID,
		Message:   m.Body,
		SentAt:    m.SentAt,
		Read:      m.Read,
	}
}
