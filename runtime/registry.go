package runtime

import (
	"hash/fnv"
	"market-chat/domain"
	"sync"

	"github.com/samber/lo"
)

const DefaultRegistryShards = 32

type Set map[domain.ConnectionID]struct{}

type shard struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]Set
}

// Registry maps rooms to the connections subscribed to them.
// Rooms are spread over independently locked shards so that fan-out on one
// room never waits on membership changes of another. A reverse index keeps
// DropConnection proportional to the rooms a connection joined.
//
// Calls concerning a single connection are expected from one goroutine at a
// time (its read loop, then its teardown). The registry never calls back
// into the caller and no two of its locks are ever held together.
type Registry struct {
	shards []*shard

	connMu      sync.Mutex
	memberships map[domain.ConnectionID]map[domain.RoomKey]struct{}
}

func NewRegistry(shards int) *Registry {
	if shards <= 0 {
		shards = DefaultRegistryShards
	}
	r := &Registry{
		shards:      make([]*shard, shards),
		memberships: make(map[domain.ConnectionID]map[domain.RoomKey]struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &shard{rooms: make(map[domain.RoomKey]Set)}
	}
	return r
}

func (r *Registry) shardOf(room domain.RoomKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room.String()))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Join subscribes a connection to a room. Joining twice is a no-op.
func (r *Registry) Join(connectionID domain.ConnectionID, room domain.RoomKey) {
	if room.IsZero() {
		return
	}
	r.connMu.Lock()
	rooms, ok := r.memberships[connectionID]
	if !ok {
		rooms = make(map[domain.RoomKey]struct{})
		r.memberships[connectionID] = rooms
	}
	rooms[room] = struct{}{}
	r.connMu.Unlock()

	s := r.shardOf(room)
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		members = make(Set)
		s.rooms[room] = members
	}
	members[connectionID] = struct{}{}
}

// Leave unsubscribes a connection from a room. Leaving a room that was never
// joined is a no-op.
func (r *Registry) Leave(connectionID domain.ConnectionID, room domain.RoomKey) {
	r.connMu.Lock()
	if rooms, ok := r.memberships[connectionID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.memberships, connectionID)
		}
	}
	r.connMu.Unlock()

	r.removeMember(connectionID, room)
}

// MembersOf returns a snapshot of the room members, safe to iterate after
// the call returns.
func (r *Registry) MembersOf(room domain.RoomKey) []domain.ConnectionID {
	s := r.shardOf(room)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.rooms[room])
}

// DropConnection removes a connection from every room it joined.
func (r *Registry) DropConnection(connectionID domain.ConnectionID) {
	r.connMu.Lock()
	rooms := r.memberships[connectionID]
	delete(r.memberships, connectionID)
	r.connMu.Unlock()

	for room := range rooms {
		r.removeMember(connectionID, room)
	}
}

// RoomCount is the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.rooms)
		s.mu.RUnlock()
	}
	return total
}

// RoomsOf lists the rooms a connection is currently subscribed to.
func (r *Registry) RoomsOf(connectionID domain.ConnectionID) []domain.RoomKey {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return lo.Keys(r.memberships[connectionID])
}

func (r *Registry) removeMember(connectionID domain.ConnectionID, room domain.RoomKey) {
	s := r.shardOf(room)
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		return
	}
	delete(members, connectionID)
	// If no one is left in the room, remove the room entry entirely
	if len(members) == 0 {
		delete(s.rooms, room)
	}
}
