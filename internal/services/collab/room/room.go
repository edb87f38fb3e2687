// Package room groups admitted connections into per-project rooms and relays
// events among their members.
package room

import (
	"sort"
	"sync"

	"github.com/louisbranch/codecollab/internal/services/collab/message"
)

// Member is one admitted connection as seen by the registry.
type Member interface {
	// ConnectionID is unique per connection for the process lifetime.
	ConnectionID() string
	// Sender is the identity shown to other members.
	Sender() message.Sender
	// Deliver queues ev for the connection without blocking and reports
	// whether it was queued.
	Deliver(ev message.Event) bool
}

// Registry maps project ids to rooms. The registry mutex is held only for
// map lookup, insert and delete; each room guards its own member set.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	onClosed  []func(roomID string)
	onDropped func()
	onJoin    func(roomID string, size int, opened bool)
	onLeave   func(roomID string, size int)
}

type room struct {
	id      string
	mu      sync.RWMutex
	members map[string]Member
	closed  bool
}

// Option customizes a Registry.
type Option func(*Registry)

// OnRoomClosed registers fn to run after a room loses its last member.
func OnRoomClosed(fn func(roomID string)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.onClosed = append(r.onClosed, fn)
		}
	}
}

// OnDeliveryDropped registers fn to run when a member refuses a delivery.
func OnDeliveryDropped(fn func()) Option {
	return func(r *Registry) {
		r.onDropped = fn
	}
}

// OnMembershipChange registers hooks for joins and leaves.
func OnMembershipChange(join func(roomID string, size int, opened bool), leave func(roomID string, size int)) Option {
	return func(r *Registry) {
		r.onJoin = join
		r.onLeave = leave
	}
}

// NewRegistry builds an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{rooms: make(map[string]*room)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join adds member to roomID, creating the room on first use. Joining twice
// is a no-op.
func (r *Registry) Join(roomID string, member Member) {
	if member == nil {
		return
	}
	for {
		rm, opened := r.roomFor(roomID)
		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last leave; the closed room is already
			// unlinked, so retry with a fresh one.
			rm.mu.Unlock()
			continue
		}
		rm.members[member.ConnectionID()] = member
		size := len(rm.members)
		rm.mu.Unlock()
		if r.onJoin != nil {
			r.onJoin(roomID, size, opened)
		}
		return
	}
}

func (r *Registry) roomFor(roomID string) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm, false
	}
	rm := &room{id: roomID, members: make(map[string]Member)}
	r.rooms[roomID] = rm
	return rm, true
}

func (r *Registry) lookup(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

// Leave removes member from roomID. When the room empties it is destroyed
// and the OnRoomClosed hooks run. Reports whether the member was present.
func (r *Registry) Leave(roomID string, member Member) bool {
	if member == nil {
		return false
	}
	rm := r.lookup(roomID)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	if _, ok := rm.members[member.ConnectionID()]; !ok {
		rm.mu.Unlock()
		return false
	}
	delete(rm.members, member.ConnectionID())
	size := len(rm.members)
	closing := size == 0
	if closing {
		rm.closed = true
	}
	rm.mu.Unlock()

	if closing {
		r.mu.Lock()
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
	if r.onLeave != nil {
		r.onLeave(roomID, size)
	}
	if closing {
		for _, fn := range r.onClosed {
			fn(roomID)
		}
	}
	return true
}

// Publish queues ev for every member of roomID except senderID and returns
// how many members accepted it. Delivery is at most once.
func (r *Registry) Publish(roomID string, senderID string, ev message.Event) int {
	return r.publish(roomID, senderID, ev)
}

// PublishAll queues ev for every member of roomID.
func (r *Registry) PublishAll(roomID string, ev message.Event) int {
	return r.publish(roomID, "", ev)
}

func (r *Registry) publish(roomID string, skipID string, ev message.Event) int {
	rm := r.lookup(roomID)
	if rm == nil {
		return 0
	}
	// The read lock is held while enqueueing so a leaving member is never
	// handed an event after its removal.
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	queued := 0
	for id, member := range rm.members {
		if id == skipID {
			continue
		}
		if member.Deliver(ev) {
			queued++
			continue
		}
		if r.onDropped != nil {
			r.onDropped()
		}
	}
	return queued
}

// Members returns the senders currently in roomID ordered by connection id.
func (r *Registry) Members(roomID string) []message.Sender {
	rm := r.lookup(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	senders := make([]message.Sender, 0, len(ids))
	for _, id := range ids {
		senders = append(senders, rm.members[id].Sender())
	}
	rm.mu.RUnlock()
	return senders
}

// Size returns the member count of roomID.
func (r *Registry) Size(roomID string) int {
	rm := r.lookup(roomID)
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// Rooms returns the ids of open rooms in sorted order.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
