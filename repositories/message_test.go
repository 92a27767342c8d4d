package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"market-chat/domain"
	"market-chat/errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// steppingClock returns a clock advancing by one millisecond on every call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

func newRepository(t *testing.T, opts ...Option) *MessageRepository {
	t.Helper()
	repository := NewMessageRepository(openDB(t), slog.Default(), opts...)
	t.Cleanup(func() { _ = repository.Close() })
	return repository
}

func insert(t *testing.T, repository *MessageRepository, sender, receiver, listing, body string) domain.ChatMessage {
	t.Helper()
	msg, err := repository.Insert(context.Background(), domain.NewMessage{
		Sender:    sender,
		Receiver:  receiver,
		ListingID: listing,
		Body:      body,
	})
	require.NoError(t, err)
	return msg
}

func Test_Insert_Assigns_Increasing_Ids(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t)

	first := insert(t, repository, "u1", "u2", "L1", "hello")
	second := insert(t, repository, "u2", "u1", "L1", "hi")

	req.Equal(domain.MessageID(1), first.ID)
	req.Equal(domain.MessageID(2), second.ID)
	req.False(first.Read)
	req.False(first.SentAt.IsZero())
	req.False(second.SentAt.Before(first.SentAt))

	stored, err := repository.Get(context.Background(), first.ID)
	req.NoError(err)
	req.Equal(first, stored)
}

func Test_Insert_Refuses_Expired_Context(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repository.Insert(ctx, domain.NewMessage{Sender: "u1", Receiver: "u2", ListingID: "L1", Body: "x"})
	req.ErrorIs(err, context.Canceled)

	messages, _, err := repository.History(context.Background(), HistoryQuery{ListingID: "L1", UserID: "u1", OtherUserID: "u2"})
	req.NoError(err)
	req.Empty(messages)
}

func Test_Get_Unknown_Message(t *testing.T) {
	repository := newRepository(t)
	_, err := repository.Get(context.Background(), 42)
	require.ErrorIs(t, err, errors.ErrMessageNotFound)
}

func Test_Ids_Survive_Reopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	repository := NewMessageRepository(db, slog.Default())
	first := insert(t, repository, "u1", "u2", "L1", "before restart")
	req.NoError(repository.Close())
	req.NoError(db.Close())

	db, err = badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	defer db.Close()
	repository = NewMessageRepository(db, slog.Default())
	defer repository.Close()
	second := insert(t, repository, "u1", "u2", "L1", "after restart")

	req.Greater(second.ID, first.ID)
}

func Test_History_Is_Scoped_To_The_Conversation(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t, WithClock(steppingClock(time.Now())))

	insert(t, repository, "u1", "u2", "L1", "first")
	insert(t, repository, "u2", "u1", "L1", "second")
	insert(t, repository, "u1", "u3", "L1", "other buyer")
	insert(t, repository, "u1", "u2", "L2", "other listing")
	insert(t, repository, "u1", "u2", "L1", "third")

	// Both participants see the same conversation
	for _, q := range []HistoryQuery{
		{ListingID: "L1", UserID: "u1", OtherUserID: "u2"},
		{ListingID: "L1", UserID: "u2", OtherUserID: "u1"},
	} {
		messages, next, err := repository.History(context.Background(), q)
		req.NoError(err)
		req.Nil(next)
		req.Equal([]string{"first", "second", "third"}, lo.Map(messages, func(m domain.ChatMessage, _ int) string {
			return m.Body
		}))
	}
}

func Test_History_Paginates_Backwards(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t, WithClock(steppingClock(time.Now())))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		insert(t, repository, "u1", "u2", "L1", fmt.Sprintf("m%d", i))
	}
	bodies := func(messages []domain.ChatMessage) []string {
		return lo.Map(messages, func(m domain.ChatMessage, _ int) string { return m.Body })
	}
	q := HistoryQuery{ListingID: "L1", UserID: "u1", OtherUserID: "u2", Limit: 2}

	page, next, err := repository.History(ctx, q)
	req.NoError(err)
	req.Equal([]string{"m4", "m5"}, bodies(page))
	req.NotNil(next)

	q.Cursor = next
	page, next, err = repository.History(ctx, q)
	req.NoError(err)
	req.Equal([]string{"m2", "m3"}, bodies(page))
	req.NotNil(next)

	q.Cursor = next
	page, next, err = repository.History(ctx, q)
	req.NoError(err)
	req.Equal([]string{"m1"}, bodies(page))
	req.Nil(next)
}

func Test_History_Exact_Page_Has_No_Cursor(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t, WithClock(steppingClock(time.Now())))
	insert(t, repository, "u1", "u2", "L1", "a")
	insert(t, repository, "u1", "u2", "L1", "b")

	page, next, err := repository.History(context.Background(), HistoryQuery{ListingID: "L1", UserID: "u1", OtherUserID: "u2", Limit: 2})
	req.NoError(err)
	req.Len(page, 2)
	req.Nil(next)
}

func Test_History_Rejects_Malformed_Cursor(t *testing.T) {
	repository := newRepository(t)
	_, _, err := repository.History(context.Background(), HistoryQuery{
		ListingID: "L1", UserID: "u1", OtherUserID: "u2", Cursor: lo.ToPtr("not-a-cursor"),
	})
	require.ErrorIs(t, err, errors.ErrInvalidCursor)
	require.ErrorIs(t, err, errors.ErrValidation)
}

func Test_Identifiers_With_Separators_Do_Not_Collide(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t)

	insert(t, repository, "a:b", "c", "L", "one")
	insert(t, repository, "a", "b:c", "L", "two")

	messages, _, err := repository.History(context.Background(), HistoryQuery{ListingID: "L", UserID: "a:b", OtherUserID: "c"})
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("one", messages[0].Body)
}

func Test_ScanUser_Is_Newest_First(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t, WithClock(steppingClock(time.Now())))

	insert(t, repository, "u1", "u2", "L1", "sent")
	insert(t, repository, "u3", "u1", "L2", "received")
	insert(t, repository, "u2", "u3", "L1", "unrelated")

	var seen []string
	err := repository.ScanUser(context.Background(), "u1", func(m domain.ChatMessage) error {
		seen = append(seen, m.Body)
		return nil
	})
	req.NoError(err)
	req.Equal([]string{"received", "sent"}, seen)
}

func Test_ScanUser_Stops_On_Callback_Error(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t)
	insert(t, repository, "u1", "u2", "L1", "a")
	insert(t, repository, "u1", "u2", "L1", "b")

	stop := fmt.Errorf("stop")
	calls := 0
	err := repository.ScanUser(context.Background(), "u1", func(domain.ChatMessage) error {
		calls++
		return stop
	})
	req.ErrorIs(err, stop)
	req.Equal(1, calls)
}

func Test_MarkRead_Only_Flips_Messages_Received_From_Counterpart(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t, WithMarkReadBatch(2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		insert(t, repository, "u2", "u1", "L1", "from u2")
	}
	mine := insert(t, repository, "u1", "u2", "L1", "from u1")
	otherListing := insert(t, repository, "u2", "u1", "L2", "other listing")

	count, err := repository.MarkRead(ctx, "L1", "u2", "u1")
	req.NoError(err)
	req.Equal(5, count)

	messages, _, err := repository.History(ctx, HistoryQuery{ListingID: "L1", UserID: "u1", OtherUserID: "u2"})
	req.NoError(err)
	for _, m := range messages {
		if m.Receiver == "u1" {
			req.True(m.Read)
		}
	}

	stored, err := repository.Get(ctx, mine.ID)
	req.NoError(err)
	req.False(stored.Read)
	stored, err = repository.Get(ctx, otherListing.ID)
	req.NoError(err)
	req.False(stored.Read)

	// A second call has nothing left to flip
	count, err = repository.MarkRead(ctx, "L1", "u2", "u1")
	req.NoError(err)
	req.Zero(count)
}

func Test_Concurrent_Inserts_Keep_Unique_Ids(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t)

	var wg sync.WaitGroup
	ids := make(chan domain.MessageID, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := repository.Insert(context.Background(), domain.NewMessage{
				Sender: "u1", Receiver: "u2", ListingID: "L1", Body: "concurrent",
			})
			if err == nil {
				ids <- msg.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[domain.MessageID]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	req.Len(seen, 100)

	messages, _, err := repository.History(context.Background(), HistoryQuery{ListingID: "L1", UserID: "u1", OtherUserID: "u2", Limit: 200})
	req.NoError(err)
	req.Len(messages, 100)
	for i := 1; i < len(messages); i++ {
		req.True(messages[i].After(messages[i-1]))
	}
}

func Test_Concurrent_MarkRead_While_Messages_Arrive(t *testing.T) {
	req := require.New(t)
	repository := newRepository(t, WithMarkReadBatch(16))
	ctx := context.Background()

	const inserters, perInserter, markers, perMarker = 4, 100, 3, 40
	errs := make(chan error, inserters*perInserter+markers*perMarker)
	var wg sync.WaitGroup
	for i := 0; i < inserters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perInserter; j++ {
				_, err := repository.Insert(ctx, domain.NewMessage{Sender: "u2", Receiver: "u1", ListingID: "L1", Body: "offer"})
				errs <- err
			}
		}()
	}
	for i := 0; i < markers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perMarker; j++ {
				_, err := repository.MarkRead(ctx, "L1", "u2", "u1")
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	// A last pass catches messages inserted after the final concurrent call
	_, err := repository.MarkRead(ctx, "L1", "u2", "u1")
	req.NoError(err)

	unread := 0
	req.NoError(repository.ScanUser(ctx, "u1", func(m domain.ChatMessage) error {
		if !m.Read {
			unread++
		}
		return nil
	}))
	req.Zero(unread)
	req.Empty(repository.markReadLocks.locks)
}

func Test_RetryOnConflict_Backs_Off_Then_Succeeds(t *testing.T) {
	req := require.New(t)
	calls := 0
	err := retryOnConflict(context.Background(), func() error {
		calls++
		if calls < 3 {
			return badger.ErrConflict
		}
		return nil
	})
	req.NoError(err)
	req.Equal(3, calls)
}

func Test_RetryOnConflict_Stops_With_Context(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retryOnConflict(ctx, func() error {
		calls++
		return badger.ErrConflict
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
