package services

import (
	"context"
	"fmt"
	"log/slog"
	"market-chat/domain"
	"market-chat/errors"
	"market-chat/projection"
	"market-chat/repositories"
	"strings"

	"github.com/samber/lo"
)

type IChatService interface {
	History(ctx context.Context, userID string, request HistoryRequest) (HistoryPage, error)
	Conversations(ctx context.Context, userID string) ([]projection.ConversationView, error)
	MarkRead(ctx context.Context, userID, listingID, otherUserID string) (int, error)
}

type HistoryRequest struct {
	ListingID   string
	OtherUserID string
	Limit       int
	Before      string
}

type HistoryPage struct {
	Data       []domain.ChatMessagePayload `json:"data"`
	NextCursor *string                     `json:"nextCursor"`
}

// ChatService is the pull side of the messaging core, consumed by REST.
type ChatService struct {
	messages     repositories.IMessageRepository
	aggregator   projection.IConversationAggregator
	payloads     *projection.PayloadBuilder
	log          *slog.Logger
	defaultLimit int
	maxLimit     int
}

func NewChatService(
	messages repositories.IMessageRepository,
	aggregator projection.IConversationAggregator,
	payloads *projection.PayloadBuilder,
	log *slog.Logger,
	defaultLimit, maxLimit int,
) *ChatService {
	if defaultLimit <= 0 {
		defaultLimit = repositories.DefaultHistoryLimit
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &ChatService{
		messages:     messages,
		aggregator:   aggregator,
		payloads:     payloads,
		log:          log.With("component", "chat_service"),
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// History returns a chronological page of the conversation between userID
// and request.OtherUserID on request.ListingID.
func (s *ChatService) History(ctx context.Context, userID string, request HistoryRequest) (HistoryPage, error) {
	listingID, otherUserID, err := conversationOf(userID, request.ListingID, request.OtherUserID)
	if err != nil {
		return HistoryPage{}, err
	}
	limit := request.Limit
	switch {
	case limit < 0:
		return HistoryPage{}, fmt.Errorf("%w: limit must be positive", errors.ErrValidation)
	case limit == 0:
		limit = s.defaultLimit
	case limit > s.maxLimit:
		limit = s.maxLimit
	}

	query := repositories.HistoryQuery{
		ListingID:   listingID,
		UserID:      userID,
		OtherUserID: otherUserID,
		Limit:       limit,
	}
	if before := strings.TrimSpace(request.Before); before != "" {
		query.Cursor = lo.ToPtr(before)
	}
	messages, next, err := s.messages.History(ctx, query)
	if err != nil {
		return HistoryPage{}, err
	}
	return HistoryPage{Data: s.payloads.Messages(messages), NextCursor: next}, nil
}

func (s *ChatService) Conversations(ctx context.Context, userID string) ([]projection.ConversationView, error) {
	conversations, err := s.aggregator.Conversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.payloads.Conversations(conversations), nil
}

// MarkRead is idempotent; marking an already read conversation returns 0.
// A conversation with oneself has no message to mark and also returns 0.
func (s *ChatService) MarkRead(ctx context.Context, userID, listingID, otherUserID string) (int, error) {
	listingID, otherUserID, err := conversationOf(userID, listingID, otherUserID)
	if errors.Is(err, errors.ErrSelfMessage) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := s.aggregator.MarkRead(ctx, listingID, otherUserID, userID)
	if err != nil {
		return 0, err
	}
	s.log.Debug("Conversation marked as read", "user_id", userID, "listing_id", listingID, "count", count)
	return count, nil
}

func conversationOf(userID, listingID, otherUserID string) (string, string, error) {
	listingID = strings.TrimSpace(listingID)
	otherUserID = strings.TrimSpace(otherUserID)
	var missing []string
	if listingID == "" {
		missing = append(missing, "listingId")
	}
	if otherUserID == "" {
		missing = append(missing, "otherUserId")
	}
	if len(missing) > 0 {
		return "", "", fmt.Errorf("%w: missing required field(s): %s", errors.ErrValidation, strings.Join(missing, ", "))
	}
	if otherUserID == userID {
		return "", "", errors.ErrSelfMessage
	}
	return listingID, otherUserID, nil
}
