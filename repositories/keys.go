package repositories

import (
	"fmt"
	"market-chat/domain"
	"net/url"
	"regexp"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Key layout. Identifiers are query-escaped so a ':' inside an id can never
// shift the boundaries of a key. Timestamps are zero padded to 19 digits and
// ids to 20 so that lexicographic order is chronological order.
//
//	msg:{id}                                        -> messageRecord
//	idx:conv:{listing}:{low}:{high}:{ts}:{id}       -> empty
//	idx:user:{user}:{ts}:{id}                       -> empty
//	idx:unread:{receiver}:{listing}:{sender}:{id}   -> empty
//	user:{id}                                       -> userRecord
const (
	sequenceKey  = "seq:message"
	msgPrefix    = "msg:"
	convPrefix   = "idx:conv:"
	userIdxPref  = "idx:user:"
	unreadPrefix = "idx:unread:"
	userPrefix   = "user:"
)

var cursorPattern = regexp.MustCompile(`^\d{19}:\d{20}$`)

func esc(s string) string {
	return url.QueryEscape(s)
}

func messageKey(id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("%s%020d", msgPrefix, uint64(id)))
}

func suffix(at time.Time, id domain.MessageID) string {
	return fmt.Sprintf("%019d:%020d", at.UnixNano(), uint64(id))
}

func conversationPrefix(listingID, a, b string) []byte {
	low, high := a, b
	if high < low {
		low, high = high, low
	}
	return []byte(fmt.Sprintf("%s%s:%s:%s:", convPrefix, esc(listingID), esc(low), esc(high)))
}

func conversationKey(m domain.ChatMessage) []byte {
	return append(conversationPrefix(m.ListingID, m.Sender, m.Receiver), suffix(m.SentAt, m.ID)...)
}

func userIndexPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", userIdxPref, esc(userID)))
}

func userIndexKey(userID string, m domain.ChatMessage) []byte {
	return append(userIndexPrefix(userID), suffix(m.SentAt, m.ID)...)
}

func unreadIndexPrefix(receiverID, listingID, senderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s:", unreadPrefix, esc(receiverID), esc(listingID), esc(senderID)))
}

func unreadIndexKey(m domain.ChatMessage) []byte {
	return []byte(fmt.Sprintf("%s%020d", unreadIndexPrefix(m.Receiver, m.ListingID, m.Sender), uint64(m.ID)))
}

func userKey(userID string) []byte {
	return []byte(userPrefix + esc(userID))
}

// idFromIndexKey reads the trailing 20-digit id every index key ends with.
func idFromIndexKey(key []byte) (domain.MessageID, error) {
	if len(key) < 20 {
		return 0, fmt.Errorf("index key too short: %q", key)
	}
	return domain.ParseMessageID(string(key[len(key)-20:]))
}

// seekLast is the reverse-iteration seek key positioned after every key of prefix.
func seekLast(prefix []byte) []byte {
	seek := make([]byte, 0, len(prefix)+1)
	seek = append(seek, prefix...)
	return append(seek, 0xFF)
}

type messageRecord struct {
	ID        uint64 `cbor:"1,keyasint"`
	Sender    string `cbor:"2,keyasint"`
	Receiver  string `cbor:"3,keyasint"`
	ListingID string `cbor:"4,keyasint"`
	Body      string `cbor:"5,keyasint"`
	SentAt    int64  `cbor:"6,keyasint"`
	Read      bool   `cbor:"7,keyasint"`
}

func encodeMessage(m domain.ChatMessage) ([]byte, error) {
	return cbor.Marshal(messageRecord{
		ID:        uint64(m.ID),
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		ListingID: m.ListingID,
		Body:      m.Body,
		SentAt:    m.SentAt.UnixNano(),
		Read:      m.Read,
	})
}

func decodeMessage(b []byte) (domain.ChatMessage, error) {
	var r messageRecord
	if err := cbor.Unmarshal(b, &r); err != nil {
		return domain.ChatMessage{}, err
	}
	return domain.ChatMessage{
		ID:        domain.MessageID(r.ID),
		Sender:    r.Sender,
		Receiver:  r.Receiver,
		ListingID: r.ListingID,
		Body:      r.Body,
		SentAt:    time.Unix(0, r.SentAt).UTC(),
		Read:      r.Read,
	}, nil
}

type userRecord struct {
	ID        string `cbor:"1,keyasint"`
	FirstName string `cbor:"2,keyasint"`
	LastName  string `cbor:"3,keyasint"`
	CreatedAt int64  `cbor:"4,keyasint"`
}

func encodeUser(u domain.UserProfile) ([]byte, error) {
	return cbor.Marshal(userRecord{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt.Unix(),
	})
}

func decodeUser(b []byte) (domain.UserProfile, error) {
	var r userRecord
	if err := cbor.Unmarshal(b, &r); err != nil {
		return domain.UserProfile{}, err
	}
	return domain.UserProfile{
		ID:        r.ID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}, nil
}
