package relay

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNotJoined is returned when a member that is in no room tries to leave
var ErrNotJoined = errors.New("member has not joined a room")

// Member is anything the relay can deliver encoded frames to
type Member interface {
	ID() string
	// Deliver queues frame without blocking and reports whether it was accepted
	Deliver(frame []byte) bool
}

type room struct {
	mu      sync.RWMutex
	members map[string]Member
}

// Rooms maps room ids to member sets. A member belongs to at most one room.
// Membership changes hold the index lock plus the affected room's lock;
// publishing only holds the target room's read lock, so traffic in one room
// never waits on another.
type Rooms struct {
	mu         sync.RWMutex
	rooms      map[string]*room
	memberRoom map[string]string

	metrics MetricsCollector
}

// PublishResult reports the outcome of one fan-out
type PublishResult struct {
	Delivered int
	Dropped   []Member
}

func NewRooms(metrics MetricsCollector) *Rooms {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Rooms{
		rooms:      make(map[string]*room),
		memberRoom: make(map[string]string),
		metrics:    metrics,
	}
}

// Join puts m in roomID, moving it out of any room it was in before.
// Joining the same room twice is a no-op.
func (r *Rooms) Join(m Member, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	if prev, ok := r.memberRoom[id]; ok {
		if prev == roomID {
			r.rooms[prev].put(m)
			return
		}
		r.removeLocked(id, prev)
	}

	target, ok := r.rooms[roomID]
	if !ok {
		target = &room{members: make(map[string]Member)}
		r.rooms[roomID] = target
	}
	target.put(m)
	r.memberRoom[id] = roomID
	r.metrics.RecordJoin(roomID)

	log.Debug().
		Str("member_id", id).
		Str("room_id", roomID).
		Int("room_members", target.size()).
		Msg("member joined room")
}

// Leave removes m from its room and returns the room it left
func (r *Rooms) Leave(m Member) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.memberRoom[m.ID()]
	if !ok {
		return "", ErrNotJoined
	}
	r.removeLocked(m.ID(), roomID)
	return roomID, nil
}

// Disconnect drops every trace of m. It is safe to call more than once.
func (r *Rooms) Disconnect(m Member) {
	if roomID, err := r.Leave(m); err == nil {
		log.Debug().Str("member_id", m.ID()).Str("room_id", roomID).Msg("member disconnected from room")
	}
}

func (r *Rooms) removeLocked(memberID, roomID string) {
	delete(r.memberRoom, memberID)

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if rm.remove(memberID) == 0 {
		// an empty room is indistinguishable from an absent one
		delete(r.rooms, roomID)
	}
	r.metrics.RecordLeave(roomID)
}

// RoomOf returns the room m currently belongs to
func (r *Rooms) RoomOf(m Member) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.memberRoom[m.ID()]
	return roomID, ok
}

// Publish hands frame to every member of roomID except senderID. Members
// that cannot accept it are returned in Dropped; nothing is queued for them.
func (r *Rooms) Publish(senderID, roomID string, frame []byte) PublishResult {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()

	var res PublishResult
	if !ok {
		r.metrics.RecordPublish(roomID, 0, 0)
		return res
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	for id, m := range rm.members {
		if id == senderID {
			continue
		}
		if m.Deliver(frame) {
			res.Delivered++
		} else {
			res.Dropped = append(res.Dropped, m)
		}
	}

	r.metrics.RecordPublish(roomID, res.Delivered, len(res.Dropped))
	return res
}

// RoomStats is a point-in-time view of membership
type RoomStats struct {
	TotalMembers int            `json:"total_members"`
	ActiveRooms  int            `json:"active_rooms"`
	Rooms        map[string]int `json:"rooms"`
}

func (r *Rooms) Stats() RoomStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RoomStats{Rooms: make(map[string]int, len(r.rooms))}
	for id, rm := range r.rooms {
		n := rm.size()
		stats.Rooms[id] = n
		stats.TotalMembers += n
	}
	stats.ActiveRooms = len(r.rooms)
	return stats
}

// Members lists the member ids of roomID in sorted order
func (r *Rooms) Members(roomID string) []string {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.RLock()
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	rm.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (rm *room) put(m Member) {
	rm.mu.Lock()
	rm.members[m.ID()] = m
	rm.mu.Unlock()
}

func (rm *room) remove(id string) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.members, id)
	return len(rm.members)
}

func (rm *room) size() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}
