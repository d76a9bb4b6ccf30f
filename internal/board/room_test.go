package board

import (
	"context"
	"testing"
	"time"

	"CoupleCanvas/internal/presence"

	"github.com/go-playground/assert/v2"
)

func listings() (chan []presence.Entry, func([]presence.Entry)) {
	ch := make(chan []presence.Entry, 64)
	return ch, func(entries []presence.Entry) {
		select {
		case ch <- entries:
		default:
		}
	}
}

// waitFor returns the first listing that satisfies ok.
func waitFor(t *testing.T, ch <-chan []presence.Entry, ok func([]presence.Entry) bool) []presence.Entry {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case entries := <-ch:
			if ok(entries) {
				return entries
			}
		case <-deadline:
			t.Fatal("listing never matched")
			return nil
		}
	}
}

func find(entries []presence.Entry, userID string) (presence.Entry, bool) {
	for _, e := range entries {
		if e.UserID == userID {
			return e, true
		}
	}
	return presence.Entry{}, false
}

func TestRoomSharesCursorAndLeaves(t *testing.T) {
	ctx := context.Background()
	tracker := presence.NewTracker("secret")

	alice, err := JoinRoom(ctx, tracker, tracker, RoomOptions{
		RoomID: "canvas-1",
		UserID: "alice",
		Data:   presence.Data{Name: "Alice", Color: "#2563eb"},
	})
	assert.Equal(t, nil, err)

	seen, onChange := listings()
	bob, err := JoinRoom(ctx, tracker, tracker, RoomOptions{RoomID: "canvas-1", UserID: "bob", OnChange: onChange})
	assert.Equal(t, nil, err)
	defer bob.Leave(ctx)

	entries := waitFor(t, seen, func(entries []presence.Entry) bool {
		e, ok := find(entries, "alice")
		return ok && e.Online
	})
	e, _ := find(entries, "alice")
	assert.Equal(t, "Alice", e.Data.Name)

	alice.MoveCursor(0.25, 0.75)
	waitFor(t, seen, func(entries []presence.Entry) bool {
		e, ok := find(entries, "alice")
		return ok && e.Data.Cursor != nil && e.Data.Cursor.X == 0.25
	})
	others := bob.CoViewers()
	assert.Equal(t, 1, len(others))
	assert.Equal(t, "alice", others[0].UserID)
	assert.Equal(t, "Alice", others[0].Data.Name)

	assert.Equal(t, nil, alice.Leave(ctx))
	waitFor(t, seen, func(entries []presence.Entry) bool {
		e, ok := find(entries, "alice")
		return ok && !e.Online
	})
}

func TestRoomPollsWithoutWatcher(t *testing.T) {
	ctx := context.Background()
	tracker := presence.NewTracker("secret")
	_, err := tracker.Heartbeat(ctx, "canvas-2", "carol", "s1", time.Minute)
	assert.Equal(t, nil, err)

	seen, onChange := listings()
	r, err := JoinRoom(ctx, tracker, nil, RoomOptions{
		RoomID:   "canvas-2",
		UserID:   "dave",
		Interval: 20 * time.Millisecond,
		OnChange: onChange,
	})
	assert.Equal(t, nil, err)
	defer r.Leave(ctx)

	entries := waitFor(t, seen, func(entries []presence.Entry) bool { return len(entries) == 2 })
	assert.Equal(t, "carol", entries[0].UserID)
}

// stalled holds cursor writes until release is closed.
type stalled struct {
	*presence.Tracker
	release chan struct{}
}

func (s stalled) UpdateUserData(ctx context.Context, roomID, userID string, data presence.Data) error {
	if data.Cursor != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Tracker.UpdateUserData(ctx, roomID, userID, data)
}

func TestMoveCursorDoesNotWaitForService(t *testing.T) {
	ctx := context.Background()
	tracker := presence.NewTracker("secret")
	svc := stalled{Tracker: tracker, release: make(chan struct{})}

	seen, onChange := listings()
	r, err := JoinRoom(ctx, svc, tracker, RoomOptions{RoomID: "canvas-3", UserID: "erin", OnChange: onChange})
	assert.Equal(t, nil, err)
	defer r.Leave(ctx)

	start := time.Now()
	r.MoveCursor(0.5, 0.5)
	r.MoveCursor(0.6, 0.6)
	assert.Equal(t, true, time.Since(start) < 50*time.Millisecond)

	close(svc.release)
	waitFor(t, seen, func(entries []presence.Entry) bool {
		e, ok := find(entries, "erin")
		return ok && e.Data.Cursor != nil && e.Data.Cursor.X == 0.6
	})
}
