package domain

import "fmt"

// RoomKind closes the set of room families a connection can occupy.
type RoomKind uint8

const (
	UserRoom RoomKind = iota + 1
	ListingRoom
)

func (k RoomKind) String() string {
	switch k {
	case UserRoom:
		return "user"
	case ListingRoom:
		return "listing"
	default:
		return "unknown"
	}
}

// RoomKey identifies a room. The kind is part of the key, so a user and a
// listing sharing the same identifier never collide.
type RoomKey struct {
	kind RoomKind
	id   string
}

// User is the personal room every authenticated connection of userID joins.
func User(userID string) RoomKey {
	return RoomKey{kind: UserRoom, id: userID}
}

// Listing is the room of observers of a marketplace listing.
func Listing(listingID string) RoomKey {
	return RoomKey{kind: ListingRoom, id: listingID}
}

func (k RoomKey) Kind() RoomKind { return k.kind }

func (k RoomKey) ID() string { return k.id }

func (k RoomKey) IsZero() bool { return k.kind == 0 || k.id == "" }

func (k RoomKey) String() string {
	return fmt.Sprintf("%s:%s", k.kind, k.id)
}

// ConnectionID is the opaque identifier of one live connection.
type ConnectionID string
