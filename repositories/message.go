//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"market-chat/domain"
	"market-chat/errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const (
	DefaultHistoryLimit  = 50
	defaultMarkReadBatch = 500
	maxConflictRetries   = 5
	conflictBackoff      = 2 * time.Millisecond
	sequenceBandwidth    = 100
)

type IMessageRepository interface {
	Insert(ctx context.Context, message domain.NewMessage) (domain.ChatMessage, error)
	Get(ctx context.Context, id domain.MessageID) (domain.ChatMessage, error)
	History(ctx context.Context, query HistoryQuery) ([]domain.ChatMessage, *string, error)
	ScanUser(ctx context.Context, userID string, fn func(domain.ChatMessage) error) error
	MarkRead(ctx context.Context, listingID, counterpartID, receiverID string) (int, error)
}

// HistoryQuery selects one conversation page. Cursor is the value returned
// by a previous call and pages towards older messages.
type HistoryQuery struct {
	ListingID   string
	UserID      string
	OtherUserID string
	Limit       int
	Cursor      *string
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	now           func() time.Time
	markReadBatch int

	mu     sync.Mutex
	seq    *badger.Sequence
	lastAt time.Time

	// markReadLocks serializes MarkRead per unread index prefix.
	markReadLocks keyedMutex
}

type Option func(*MessageRepository)

func WithClock(now func() time.Time) Option {
	return func(m *MessageRepository) { m.now = now }
}

func WithMarkReadBatch(size int) Option {
	return func(m *MessageRepository) {
		if size > 0 {
			m.markReadBatch = size
		}
	}
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, opts ...Option) *MessageRepository {
	m := &MessageRepository{
		db:            db,
		log:           log.With("component", "message_repository"),
		now:           time.Now,
		markReadBatch: defaultMarkReadBatch,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close returns the leased but unused ids of the sequence.
func (m *MessageRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == nil {
		return nil
	}
	err := m.seq.Release()
	m.seq = nil
	return err
}

// allocate hands out the next id together with its timestamp.
// Both are taken under one lock so that, within this process, SentAt never
// decreases while ids increase.
func (m *MessageRepository) allocate() (domain.MessageID, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == nil {
		seq, err := m.db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
		if err != nil {
			return 0, time.Time{}, err
		}
		m.seq = seq
	}
	next, err := m.seq.Next()
	if err != nil {
		return 0, time.Time{}, err
	}
	at := m.now().UTC()
	if at.Before(m.lastAt) {
		at = m.lastAt
	}
	m.lastAt = at
	// Badger sequences start at 0, ids start at 1.
	return domain.MessageID(next + 1), at, nil
}

// Insert persists a message with its secondary indexes in a single transaction.
// Nothing is written when ctx expires before the commit.
func (m *MessageRepository) Insert(ctx context.Context, message domain.NewMessage) (domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChatMessage{}, err
	}
	id, at, err := m.allocate()
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("allocating message id: %w", err)
	}
	msg := domain.ChatMessage{
		ID:        id,
		Sender:    message.Sender,
		Receiver:  message.Receiver,
		ListingID: message.ListingID,
		Body:      message.Body,
		SentAt:    at,
		Read:      false,
	}
	value, err := encodeMessage(msg)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	txn := m.db.NewTransaction(true)
	defer txn.Discard()

	entries := [][2][]byte{
		{messageKey(id), value},
		{conversationKey(msg), {}},
		{userIndexKey(msg.Sender, msg), {}},
		{userIndexKey(msg.Receiver, msg), {}},
		{unreadIndexKey(msg), {}},
	}
	for _, e := range entries {
		if err = txn.Set(e[0], e[1]); err != nil {
			return domain.ChatMessage{}, err
		}
	}
	if err = ctx.Err(); err != nil {
		return domain.ChatMessage{}, err
	}
	if err = txn.Commit(); err != nil {
		return domain.ChatMessage{}, err
	}
	m.log.Debug("Message stored", "message_id", id, "listing_id", msg.ListingID)
	return msg, nil
}

func (m *MessageRepository) Get(_ context.Context, id domain.MessageID) (domain.ChatMessage, error) {
	var msg domain.ChatMessage
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		msg, err = getMessage(txn, id)
		return err
	})
	return msg, err
}

// History returns up to Limit messages of a conversation, oldest first.
// The keys are scanned backwards from the cursor (or from the newest message),
// so the page is the most recent one before the cursor. The returned cursor
// is nil when no older message remains.
func (m *MessageRepository) History(ctx context.Context, q HistoryQuery) ([]domain.ChatMessage, *string, error) {
	if q.Cursor != nil && !cursorPattern.MatchString(*q.Cursor) {
		return nil, nil, errors.ErrInvalidCursor
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	prefix := conversationPrefix(q.ListingID, q.UserID, q.OtherUserID)

	var messages []domain.ChatMessage
	var next *string
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := seekLast(prefix)
		if q.Cursor != nil {
			seekKey = append(bytes.Clone(prefix), *q.Cursor...)
		}
		it.Seek(seekKey)
		if q.Cursor != nil && it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seekKey) {
			it.Next()
		}

		var lastSuffix string
		for ; it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(messages) == limit {
				next = lo.ToPtr(lastSuffix)
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit))
				break
			}
			key := it.Item().KeyCopy(nil)
			id, err := idFromIndexKey(key)
			if err != nil {
				return err
			}
			msg, err := getMessage(txn, id)
			if err != nil {
				return err
			}
			messages = append(messages, msg)
			lastSuffix = string(key[len(prefix):])
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return lo.Reverse(messages), next, nil
}

// ScanUser calls fn for every message userID sent or received, newest first.
// The scan reads a consistent snapshot; messages inserted meanwhile may be missed.
func (m *MessageRepository) ScanUser(ctx context.Context, userID string, fn func(domain.ChatMessage) error) error {
	prefix := userIndexPrefix(userID)
	return m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(seekLast(prefix)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := idFromIndexKey(it.Item().Key())
			if err != nil {
				return err
			}
			msg, err := getMessage(txn, id)
			if err != nil {
				return err
			}
			if err = fn(msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkRead flips every unread message sent by counterpartID to receiverID on
// listingID and returns how many were flipped. Work is split in batches so a
// large backlog never exceeds a badger transaction.
func (m *MessageRepository) MarkRead(ctx context.Context, listingID, counterpartID, receiverID string) (int, error) {
	prefix := unreadIndexPrefix(receiverID, listingID, counterpartID)
	unlock := m.markReadLocks.Lock(string(prefix))
	defer unlock()

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var flipped int
		var more bool
		err := retryOnConflict(ctx, func() error {
			flipped, more = 0, false
			return m.db.Update(func(txn *badger.Txn) error {
				keys := collectKeys(txn, prefix, m.markReadBatch)
				more = len(keys) == m.markReadBatch
				for _, key := range keys {
					id, err := idFromIndexKey(key)
					if err != nil {
						return err
					}
					msg, err := getMessage(txn, id)
					if err != nil {
						return err
					}
					if !msg.Read {
						msg.Read = true
						value, err := encodeMessage(msg)
						if err != nil {
							return err
						}
						if err = txn.Set(messageKey(id), value); err != nil {
							return err
						}
						flipped++
					}
					if err = txn.Delete(key); err != nil {
						return err
					}
				}
				return nil
			})
		})
		if err != nil {
			return total, err
		}
		total += flipped
		if !more {
			if total > 0 {
				m.log.Debug("Messages marked as read", "listing_id", listingID, "count", total)
			}
			return total, nil
		}
	}
}

func getMessage(txn *badger.Txn, id domain.MessageID) (domain.ChatMessage, error) {
	item, err := txn.Get(messageKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ChatMessage{}, fmt.Errorf("%w: %s", errors.ErrMessageNotFound, id)
		}
		return domain.ChatMessage{}, err
	}
	var msg domain.ChatMessage
	err = item.Value(func(val []byte) error {
		msg, err = decodeMessage(val)
		return err
	})
	return msg, err
}

func collectKeys(txn *badger.Txn, prefix []byte, limit int) [][]byte {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	options.Prefix = prefix
	it := txn.NewIterator(options)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix) && len(keys) < limit; it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// retryOnConflict reruns fn while badger reports a conflict, backing off
// between attempts. It gives up after maxConflictRetries or when ctx ends.
func retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = fn(); !errors.Is(err, badger.ErrConflict) {
			return err
		}
		timer := time.NewTimer(conflictBackoff << attempt)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

type refLock struct {
	sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
