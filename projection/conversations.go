// Package projection derives read models from the message store.
// It never mutates messages except through the explicit mark-read operation.
package projection

import (
	"context"
	"log/slog"
	"market-chat/domain"
	"market-chat/repositories"
	"sort"

	"github.com/samber/lo"
)

// Conversation is the latest state of one (listing, counterpart) pair as
// seen by one user.
type Conversation struct {
	ListingID   string
	Counterpart string
	LastMessage domain.ChatMessage
	UnreadCount int
}

type conversationKey struct {
	listingID   string
	counterpart string
}

// accumulator folds messages of one user into conversations. Messages may
// arrive in any order.
type accumulator struct {
	userID        string
	conversations map[conversationKey]*Conversation
}

func newAccumulator(userID string) *accumulator {
	return &accumulator{userID: userID, conversations: make(map[conversationKey]*Conversation)}
}

func (a *accumulator) add(m domain.ChatMessage) {
	if !m.Involves(a.userID) {
		return
	}
	key := conversationKey{listingID: m.ListingID, counterpart: m.Counterpart(a.userID)}
	c, ok := a.conversations[key]
	if !ok {
		c = &Conversation{ListingID: key.listingID, Counterpart: key.counterpart, LastMessage: m}
		a.conversations[key] = c
	} else if m.After(c.LastMessage) {
		c.LastMessage = m
	}
	if m.Receiver == a.userID && !m.Read {
		c.UnreadCount++
	}
}

// result lists conversations, most recent activity first.
func (a *accumulator) result() []Conversation {
	conversations := lo.MapToSlice(a.conversations, func(_ conversationKey, c *Conversation) Conversation {
		return *c
	})
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastMessage.After(conversations[j].LastMessage)
	})
	return conversations
}

// Aggregate groups messages of userID by listing and counterpart.
func Aggregate(userID string, messages []domain.ChatMessage) []Conversation {
	acc := newAccumulator(userID)
	lo.ForEach(messages, func(m domain.ChatMessage, _ int) { acc.add(m) })
	return acc.result()
}

type IConversationAggregator interface {
	Conversations(ctx context.Context, userID string) ([]Conversation, error)
	MarkRead(ctx context.Context, listingID, counterpartID, userID string) (int, error)
}

type ConversationAggregator struct {
	messages repositories.IMessageRepository
	log      *slog.Logger
}

func NewConversationAggregator(messages repositories.IMessageRepository, log *slog.Logger) *ConversationAggregator {
	return &ConversationAggregator{messages: messages, log: log.With("component", "conversation_aggregator")}
}

// Conversations scans every message of userID once. Messages inserted during
// the scan may or may not be reflected.
func (a *ConversationAggregator) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	acc := newAccumulator(userID)
	err := a.messages.ScanUser(ctx, userID, func(m domain.ChatMessage) error {
		acc.add(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	conversations := acc.result()
	a.log.Debug("Conversations aggregated", "user_id", userID, "count", len(conversations))
	return conversations, nil
}

// MarkRead flips the messages counterpartID sent to userID on listingID.
// Zero matching messages is a success.
func (a *ConversationAggregator) MarkRead(ctx context.Context, listingID, counterpartID, userID string) (int, error) {
	return a.messages.MarkRead(ctx, listingID, counterpartID, userID)
}
