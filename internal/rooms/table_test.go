package rooms

import (
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
)

func TestJoinCreatesRoom(t *testing.T) {
	table := NewTable()

	existing, added := table.Join("lobby", "a")
	if !added {
		t.Fatal("Join added = false for new member")
	}
	if len(existing) != 0 {
		t.Errorf("existing = %v, want none", existing)
	}
	if got := table.Rooms(); !reflect.DeepEqual(got, []string{"lobby"}) {
		t.Errorf("Rooms() = %v, want [lobby]", got)
	}

	existing, added = table.Join("lobby", "b")
	if !added || !reflect.DeepEqual(existing, []string{"a"}) {
		t.Errorf("Join(b) = %v, %v; want [a], true", existing, added)
	}
}

func TestJoinIdempotent(t *testing.T) {
	table := NewTable()
	table.Join("lobby", "a")
	table.Join("lobby", "b")

	existing, added := table.Join("lobby", "a")
	if added {
		t.Error("second Join added = true, want false")
	}
	if !reflect.DeepEqual(existing, []string{"b"}) {
		t.Errorf("existing = %v, want [b]", existing)
	}
	if got := table.Members("lobby"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Members = %v, want [a b]", got)
	}
}

func TestRoomNamesCaseSensitive(t *testing.T) {
	table := NewTable()
	table.Join("Lobby", "a")
	table.Join("lobby", "b")

	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
	if table.IsMember("lobby", "a") {
		t.Error("a should not be a member of lobby")
	}
}

func TestLeave(t *testing.T) {
	table := NewTable()
	table.Join("lobby", "a")
	table.Join("lobby", "b")

	remaining, removed := table.Leave("lobby", "a")
	if !removed || !reflect.DeepEqual(remaining, []string{"b"}) {
		t.Errorf("Leave(a) = %v, %v; want [b], true", remaining, removed)
	}

	_, removed = table.Leave("lobby", "a")
	if removed {
		t.Error("second Leave removed = true, want false")
	}
	if got := table.Members("lobby"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("Members = %v after repeated leave, want [b]", got)
	}

	if _, removed := table.Leave("nowhere", "a"); removed {
		t.Error("Leave from missing room removed = true")
	}
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	table := NewTable()
	table.Join("lobby", "a")

	remaining, removed := table.Leave("lobby", "a")
	if !removed || len(remaining) != 0 {
		t.Errorf("Leave = %v, %v; want empty, true", remaining, removed)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
	if members := table.Members("lobby"); members != nil {
		t.Errorf("Members of deleted room = %v, want nil", members)
	}
	if _, ok := table.Snapshot()["lobby"]; ok {
		t.Error("Snapshot still contains deleted room")
	}
}

func TestMembersIsSnapshot(t *testing.T) {
	table := NewTable()
	table.Join("lobby", "a")
	table.Join("lobby", "b")

	snap := table.Members("lobby")
	table.Leave("lobby", "a")
	table.Join("lobby", "c")

	if !reflect.DeepEqual(snap, []string{"a", "b"}) {
		t.Errorf("snapshot mutated to %v", snap)
	}
}

func TestRemoveMember(t *testing.T) {
	table := NewTable()
	table.Join("lobby", "a")
	table.Join("lobby", "b")
	table.Join("solo", "a")
	table.Join("other", "b")

	affected := table.RemoveMember("a")
	want := map[string][]string{
		"lobby": {"b"},
		"solo":  {},
	}
	if !reflect.DeepEqual(affected, want) {
		t.Errorf("RemoveMember = %v, want %v", affected, want)
	}
	if got := table.Rooms(); !reflect.DeepEqual(got, []string{"lobby", "other"}) {
		t.Errorf("Rooms() = %v, want [lobby other]", got)
	}
	if len(table.RemoveMember("a")) != 0 {
		t.Error("second RemoveMember reported affected rooms")
	}
}

// TestMembershipFollowsLastOperation checks that after any sequence of joins
// and leaves, an identity is listed in a room exactly when its last
// operation on that room was a join.
func TestMembershipFollowsLastOperation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	table := NewTable()
	model := make(map[string]map[string]bool)

	ids := []string{"a", "b", "c", "d"}
	names := []string{"r1", "r2", "r3"}

	for step := 0; step < 2000; step++ {
		id := ids[rng.Intn(len(ids))]
		room := names[rng.Intn(len(names))]
		if model[room] == nil {
			model[room] = make(map[string]bool)
		}
		if rng.Intn(2) == 0 {
			table.Join(room, id)
			model[room][id] = true
		} else {
			_, removed := table.Leave(room, id)
			if removed != model[room][id] {
				t.Fatalf("step %d: Leave(%s, %s) removed = %v, want %v", step, room, id, removed, model[room][id])
			}
			model[room][id] = false
		}

		for _, r := range names {
			var want []string
			for _, i := range ids {
				if model[r][i] {
					want = append(want, i)
				}
			}
			got := table.Members(r)
			if len(want) == 0 {
				if got != nil {
					t.Fatalf("step %d: room %s should not exist, members %v", step, r, got)
				}
				continue
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("step %d: Members(%s) = %v, want %v", step, r, got, want)
			}
		}
	}
}

func TestConcurrentMembership(t *testing.T) {
	table := NewTable()
	const workers = 20

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", n)
			for j := 0; j < 100; j++ {
				room := fmt.Sprintf("room-%d", j%5)
				table.Join(room, id)
				_ = table.Members(room)
				table.Leave(room, id)
			}
			table.Join("shared", id)
		}(i)
	}
	wg.Wait()

	if got := len(table.Members("shared")); got != workers {
		t.Errorf("shared has %d members, want %d", got, workers)
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (only shared)", table.Len())
	}
}
