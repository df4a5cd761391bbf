// Package presence tracks which users are viewing which note rooms.
//
// The registry is process-local. Each room holds an insertion-ordered set
// of usernames; empty rooms are dropped.
package presence

import (
	"sort"
	"sync"
)

type Registry struct {
	mu    sync.RWMutex
	rooms map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string][]string)}
}

// Join adds user to room if absent and returns the room's subscribers.
func (r *Registry) Join(room, user string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if indexOf(members, user) < 0 {
		members = append(members, user)
		r.rooms[room] = members
	}
	return clone(members)
}

// Leave removes user from room if present and returns the remaining
// subscribers.
func (r *Registry) Leave(room, user string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return clone(r.remove(room, user))
}

// RemoveEverywhere drops user from every room it is in. The result maps each
// touched room to its updated subscriber list.
func (r *Registry) RemoveEverywhere(user string) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	touched := make(map[string][]string)
	for room, members := range r.rooms {
		if indexOf(members, user) < 0 {
			continue
		}
		touched[room] = clone(r.remove(room, user))
	}
	return touched
}

func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return clone(r.rooms[room])
}

// Rooms lists rooms with at least one subscriber, sorted.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// remove must be called with mu held.
func (r *Registry) remove(room, user string) []string {
	members, ok := r.rooms[room]
	if !ok {
		return nil
	}
	if i := indexOf(members, user); i >= 0 {
		members = append(members[:i:i], members[i+1:]...)
	}
	if len(members) == 0 {
		delete(r.rooms, room)
		return nil
	}
	r.rooms[room] = members
	return members
}

func indexOf(members []string, user string) int {
	for i, m := range members {
		if m == user {
			return i
		}
	}
	return -1
}

func clone(members []string) []string {
	out := make([]string, len(members))
	copy(out, members)
	return out
}
