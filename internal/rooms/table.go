// Package rooms tracks which connections belong to which named rooms.
//
// A room exists only while it has at least one member: it is created by the
// first Join and deleted by the Leave or RemoveMember that empties it. Every
// read returns a copy, so callers can iterate over membership while other
// goroutines keep mutating the table.
package rooms

import (
	"sort"
	"sync"
)

type members map[string]struct{}

// Table maps room names to member identities. It is safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	rooms map[string]members
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{rooms: make(map[string]members)}
}

// Join adds id to room, creating the room if absent. It returns the members
// present before the call (excluding id) and whether id was newly added.
func (t *Table) Join(room, id string) (existing []string, added bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.rooms[room]
	if !ok {
		set = make(members)
		t.rooms[room] = set
	}
	existing = set.without(id)
	if _, ok := set[id]; ok {
		return existing, false
	}
	set[id] = struct{}{}
	return existing, true
}

// Leave removes id from room. It returns the members that remain and whether
// id was a member. The room is deleted once empty.
func (t *Table) Leave(room, id string) (remaining []string, removed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.rooms[room]
	if !ok {
		return nil, false
	}
	if _, ok := set[id]; !ok {
		return set.list(), false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(t.rooms, room)
		return nil, true
	}
	return set.list(), true
}

// RemoveMember removes id from every room it belongs to, deleting rooms it
// leaves empty. The result maps each affected room to its remaining members;
// rooms that were deleted map to an empty slice.
func (t *Table) RemoveMember(id string) map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	affected := make(map[string][]string)
	for room, set := range t.rooms {
		if _, ok := set[id]; !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(t.rooms, room)
			affected[room] = []string{}
			continue
		}
		affected[room] = set.list()
	}
	return affected
}

// Members returns a sorted snapshot of room's members, or nil if the room
// does not exist.
func (t *Table) Members(room string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.rooms[room]
	if !ok {
		return nil
	}
	return set.list()
}

// IsMember reports whether id currently belongs to room.
func (t *Table) IsMember(room, id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rooms[room][id]
	return ok
}

// Rooms returns the sorted names of every non-empty room.
func (t *Table) Rooms() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.rooms))
	for name := range t.rooms {
		names = append(names, name)
	}
	t.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of rooms.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

// Snapshot copies the whole table.
func (t *Table) Snapshot() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]string, len(t.rooms))
	for name, set := range t.rooms {
		out[name] = set.list()
	}
	return out
}

// without returns the sorted members other than skip.
func (m members) without(skip string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		if id != skip {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m members) list() []string {
	return m.without("")
}
