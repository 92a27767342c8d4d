package runtime

import (
	"fmt"
	"market-chat/domain"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Join_And_MembersOf(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(4)
	first := domain.ConnectionID(uuid.NewString())
	second := domain.ConnectionID(uuid.NewString())

	// Given no connection is registered
	req.Zero(registry.RoomCount())
	req.Empty(registry.MembersOf(domain.User("u1")))

	// When two connections of the same user join its room
	registry.Join(first, domain.User("u1"))
	registry.Join(second, domain.User("u1"))
	registry.Join(first, domain.User("u1"))

	// Then both are members once
	req.ElementsMatch([]domain.ConnectionID{first, second}, registry.MembersOf(domain.User("u1")))
	req.Equal(1, registry.RoomCount())
}

func TestRegistry_Room_Kinds_Are_Distinct(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(1)
	registry.Join("c1", domain.User("42"))
	registry.Join("c2", domain.Listing("42"))

	req.Equal([]domain.ConnectionID{"c1"}, registry.MembersOf(domain.User("42")))
	req.Equal([]domain.ConnectionID{"c2"}, registry.MembersOf(domain.Listing("42")))
}

func TestRegistry_Leave_Removes_Empty_Rooms(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(4)
	registry.Join("c1", domain.Listing("L1"))
	registry.Join("c2", domain.Listing("L1"))

	registry.Leave("c1", domain.Listing("L1"))
	req.Equal([]domain.ConnectionID{"c2"}, registry.MembersOf(domain.Listing("L1")))

	registry.Leave("c2", domain.Listing("L1"))
	req.Empty(registry.MembersOf(domain.Listing("L1")))
	req.Zero(registry.RoomCount())

	// Leaving again is harmless
	registry.Leave("c2", domain.Listing("L1"))
	req.Zero(registry.RoomCount())
}

func TestRegistry_Zero_Room_Is_Ignored(t *testing.T) {
	registry := NewRegistry(4)
	registry.Join("c1", domain.Listing(""))
	require.Zero(t, registry.RoomCount())
	require.Empty(t, registry.RoomsOf("c1"))
}

func TestRegistry_DropConnection_Leaves_Every_Room(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(4)
	registry.Join("c1", domain.User("u1"))
	registry.Join("c1", domain.Listing("L1"))
	registry.Join("c1", domain.Listing("L2"))
	registry.Join("c2", domain.Listing("L1"))

	req.Len(registry.RoomsOf("c1"), 3)

	registry.DropConnection("c1")

	req.Empty(registry.RoomsOf("c1"))
	req.Empty(registry.MembersOf(domain.User("u1")))
	req.Empty(registry.MembersOf(domain.Listing("L2")))
	req.Equal([]domain.ConnectionID{"c2"}, registry.MembersOf(domain.Listing("L1")))
	req.Equal(1, registry.RoomCount())

	// Dropping an unknown connection is a no-op
	registry.DropConnection("c1")
}

func TestRegistry_MembersOf_Is_A_Snapshot(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(4)
	registry.Join("c1", domain.Listing("L1"))

	members := registry.MembersOf(domain.Listing("L1"))
	registry.Join("c2", domain.Listing("L1"))
	registry.DropConnection("c1")

	req.Equal([]domain.ConnectionID{"c1"}, members)
}

func TestRegistry_Concurrent_Connections(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(8)
	room := domain.Listing("hot")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.ConnectionID(fmt.Sprintf("c%d", i))
			registry.Join(id, domain.User(fmt.Sprintf("u%d", i)))
			registry.Join(id, room)
			_ = registry.MembersOf(room)
			if i%2 == 0 {
				registry.DropConnection(id)
			}
		}(i)
	}
	wg.Wait()

	req.Len(registry.MembersOf(room), 25)
	// 25 user rooms plus the shared listing room
	req.Equal(26, registry.RoomCount())
}
