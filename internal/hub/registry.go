package hub

import (
	"sort"
	"sync"

	"boardhub/internal/metrics"
	"boardhub/pkg/types"
)

// roomEntry counts reserved slots (capacity, in-flight joins included) and
// attached members (joins the actor has applied) separately.
type roomEntry struct {
	room     *room
	members  int
	attached int
}

// Registry maps whiteboard ids to live room actors.
// ARCHITECTURAL DISCOVERY: the mutex guards creation, teardown and member
// counting only; steady-state traffic goes straight to the room actor through
// the Membership handle and never takes this lock
type Registry struct {
	mu          sync.Mutex
	rooms       map[string]*roomEntry
	maxRoomSize int
}

// NewRegistry creates an empty registry. maxRoomSize <= 0 means unbounded.
func NewRegistry(maxRoomSize int) *Registry {
	return &Registry{
		rooms:       make(map[string]*roomEntry),
		maxRoomSize: maxRoomSize,
	}
}

// attach reserves a slot for one connection, spawning the room on first use.
func (r *Registry) attach(id string, spawn func() *room) (*room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.rooms[id]
	if exists && r.maxRoomSize > 0 && entry.members >= r.maxRoomSize {
		return nil, types.ErrRoomFull
	}
	if !exists {
		entry = &roomEntry{room: spawn()}
		r.rooms[id] = entry
		metrics.RoomOpened()
	}
	entry.members++
	return entry.room, nil
}

// confirm marks a reserved slot as an attached member once the room actor
// has applied the join.
func (r *Registry) confirm(id string, rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.rooms[id]; exists && entry.room == rm {
		entry.attached++
	}
}

// detach releases one slot held on rm; attached says whether the slot had
// been confirmed. emptied reports that the room was removed from the
// registry; found is false when rm is no longer registered (the hub was
// stopped underneath the caller).
func (r *Registry) detach(id string, rm *room, attached bool) (emptied, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.rooms[id]
	if !exists || entry.room != rm {
		return false, false
	}
	entry.members--
	if attached {
		entry.attached--
	}
	if entry.members <= 0 {
		delete(r.rooms, id)
		metrics.RoomClosed()
		return true, true
	}
	return false, true
}

func (r *Registry) lookup(id string) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.rooms[id]
	if !exists {
		return nil, false
	}
	return entry.room, true
}

// drain empties the registry and returns every room that was live.
func (r *Registry) drain() []*room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]*room, 0, len(r.rooms))
	for id, entry := range r.rooms {
		rooms = append(rooms, entry.room)
		delete(r.rooms, id)
		metrics.RoomClosed()
	}
	return rooms
}

// Has reports whether a room is live for id.
func (r *Registry) Has(id string) bool {
	_, ok := r.lookup(id)
	return ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// MemberCount returns the number of connections attached to id. Joins
// still in flight are not counted.
func (r *Registry) MemberCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.rooms[id]; exists {
		return entry.attached
	}
	return 0
}

// Connections returns the number of attached connections across all rooms.
func (r *Registry) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, entry := range r.rooms {
		total += entry.attached
	}
	return total
}

// IDs returns the live room ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
