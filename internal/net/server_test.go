package net

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CoupleCanvas/internal/presence"
	"CoupleCanvas/internal/state"
	"CoupleCanvas/internal/store"

	"github.com/go-playground/assert/v2"
)

func startServer(t *testing.T) (*store.Memory, *Client) {
	t.Helper()
	mem := store.NewMemory()
	srv := NewServer(mem, presence.NewTracker("test-secret"))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + WebSocketPath
	client, err := Dial(context.Background(), url)
	assert.Equal(t, nil, err)
	t.Cleanup(func() { client.Close() })
	return mem, client
}

func line(canvasID, author string, createdAt int64) state.Stroke {
	return state.Stroke{
		CanvasID:  canvasID,
		AuthorID:  author,
		Color:     "#111111",
		Size:      0.01,
		Mode:      state.ModeDraw,
		CreatedAt: createdAt,
		Points:    []state.Point{{X: 0.1, Y: 0.1, T: 1}, {X: 0.4, Y: 0.6, T: 2}},
	}
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	_, c := startServer(t)

	cv, err := c.CreateCanvas(ctx, "ours", "alice")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ours", cv.Slug)

	empty, err := c.ListByCanvas(ctx, cv.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(empty))

	id, err := c.Append(ctx, line(cv.ID, "alice", 10))
	assert.Equal(t, nil, err)
	assert.NotEqual(t, "", id)

	ids, err := c.AppendMany(ctx, []state.Stroke{line(cv.ID, "bob", 11), line(cv.ID, "alice", 12)})
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(ids))

	err = c.AppendPoints(ctx, id, []state.Point{{X: 0.9, Y: 0.9, T: 3}}, state.ModeDraw)
	assert.Equal(t, nil, err)

	list, err := c.ListByCanvas(ctx, cv.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(list))
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, 3, len(list[0].Points))
	assert.Equal(t, 0.9, list[0].Points[2].X)

	deleted, ok, err := c.DeleteLatestByAuthor(ctx, cv.ID, "alice")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, ids[1], deleted)

	n, err := c.DeleteAllByCanvas(ctx, cv.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, n)
}

func TestErrorsKeepTheirIdentity(t *testing.T) {
	ctx := context.Background()
	_, c := startServer(t)

	_, err := c.GetCanvas(ctx, "missing")
	assert.Equal(t, true, errors.Is(err, store.ErrNotFound))

	cv, err := c.CreateCanvas(ctx, "", "alice")
	assert.Equal(t, nil, err)

	_, err = c.TogglePublish(ctx, cv.ID, "alice", true)
	assert.Equal(t, true, errors.Is(err, store.ErrTitleRequired))

	title := "Sunday"
	err = c.UpdateCanvasMetadata(ctx, cv.ID, "bob", store.Metadata{Title: &title})
	assert.Equal(t, true, errors.Is(err, store.ErrForbidden))

	assert.Equal(t, nil, c.UpdateCanvasMetadata(ctx, cv.ID, "alice", store.Metadata{Title: &title}))
	published, err := c.TogglePublish(ctx, cv.ID, "alice", true)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, published.Published())

	_, err = c.Append(ctx, line(cv.ID, "alice", 1))
	assert.Equal(t, true, errors.Is(err, store.ErrReadOnly))

	_, err = c.List(ctx, "not-a-token")
	assert.Equal(t, true, errors.Is(err, presence.ErrInvalidToken))
}

func TestSubscribePushesSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, c := startServer(t)

	cv, err := c.CreateCanvas(ctx, "", "alice")
	assert.Equal(t, nil, err)
	updates, err := c.Subscribe(ctx, cv.ID)
	assert.Equal(t, nil, err)

	first := receive(t, updates)
	assert.Equal(t, 0, len(first))

	id, err := c.Append(ctx, line(cv.ID, "alice", 1))
	assert.Equal(t, nil, err)
	next := receive(t, updates)
	assert.Equal(t, 1, len(next))
	assert.Equal(t, id, next[0].ID)

	cancel()
	select {
	case _, ok := <-updates:
		for ok {
			_, ok = <-updates
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not closed")
	}
}

func TestPresenceOverTheWire(t *testing.T) {
	ctx := context.Background()
	_, c := startServer(t)

	tokens, err := c.Heartbeat(ctx, "room", "alice", "s1", time.Second)
	assert.Equal(t, nil, err)
	assert.NotEqual(t, "", tokens.RoomToken)

	_, err = c.Heartbeat(ctx, "room", "bob", "s2", time.Second)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, c.UpdateUserData(ctx, "room", "bob", presence.Data{Name: "Bob", Cursor: &state.Cursor{X: 0.5, Y: 0.25}}))

	entries, err := c.List(ctx, tokens.RoomToken)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(entries))
	assert.Equal(t, "bob", entries[1].UserID)
	assert.Equal(t, "Bob", entries[1].Data.Name)
	assert.Equal(t, 0.25, entries[1].Data.Cursor.Y)

	others := presence.Others(entries, "alice")
	assert.Equal(t, 1, len(others))

	assert.Equal(t, nil, c.Disconnect(ctx, tokens.SessionToken))
	entries, err = c.List(ctx, tokens.RoomToken)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, entries[0].Online)
}

func TestCallsFailAfterClose(t *testing.T) {
	_, c := startServer(t)
	assert.Equal(t, nil, c.Close())
	_, err := c.ListByCanvas(context.Background(), "x")
	assert.Equal(t, true, errors.Is(err, ErrClosed))
}

func receive(t *testing.T, ch <-chan []state.Stroke) []state.Stroke {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot")
	}
	return nil
}
