package projection

import (
	"fmt"
	"log/slog"
	"market-chat/domain"
	"market-chat/mocks"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPayloadBuilder_Denormalizes_Participants(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	users := mocks.NewMockIUserRepository(ctrl)
	builder := NewPayloadBuilder(users, slog.Default())

	users.EXPECT().
		GetUsers("u1", "u2").
		Return(map[string]domain.UserProfile{"u1": {ID: "u1", FirstName: "Ada", LastName: "Farmer"}}, nil)

	payload := builder.Message(msg(7, "u1", "u2", "L7", 0, false))

	req.Equal("7", payload.ID)
	req.Equal(domain.ParticipantPayload{ID: "u1", FirstName: "Ada", LastName: "Farmer"}, payload.Sender)
	// Unknown users keep their id only
	req.Equal(domain.ParticipantPayload{ID: "u2"}, payload.Receiver)
	req.Equal("L7", payload.ListingID)
	req.Equal("m7", payload.Message)
	req.False(payload.Read)
}

func TestPayloadBuilder_Degrades_When_Directory_Fails(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	users := mocks.NewMockIUserRepository(ctrl)
	builder := NewPayloadBuilder(users, slog.Default())

	users.EXPECT().GetUsers(gomock.Any()).Return(nil, fmt.Errorf("boom"))

	payloads := builder.Messages([]domain.ChatMessage{msg(1, "u1", "u2", "L1", 0, false), msg(2, "u2", "u1", "L1", 1, true)})
	req.Len(payloads, 2)
	req.Equal(domain.ParticipantPayload{ID: "u2"}, payloads[1].Sender)
	req.True(payloads[1].Read)
}

func TestPayloadBuilder_Conversations(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	users := mocks.NewMockIUserRepository(ctrl)
	builder := NewPayloadBuilder(users, slog.Default())

	users.EXPECT().
		GetUsers(gomock.Any()).
		Return(map[string]domain.UserProfile{"B": {ID: "B", FirstName: "Bo"}}, nil)

	views := builder.Conversations(Aggregate("A", []domain.ChatMessage{msg(1, "B", "A", "L1", 0, false)}))
	req.Len(views, 1)
	req.Equal("L1", views[0].ListingID)
	req.Equal(domain.ParticipantPayload{ID: "B", FirstName: "Bo"}, views[0].OtherUser)
	req.Equal("1", views[0].LastMessage.ID)
	req.Equal(1, views[0].UnreadCount)
}

func TestPayloadBuilder_Without_Directory(t *testing.T) {
	builder := NewPayloadBuilder(nil, slog.Default())
	payload := builder.Message(msg(1, "u1", "u2", "L1", 0, false))
	require.Equal(t, domain.ParticipantPayload{ID: "u1"}, payload.Sender)
}
