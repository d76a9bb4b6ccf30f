package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"CoupleCanvas/internal/state"

	"github.com/go-playground/assert/v2"
)

func stroke(canvasID, author string, createdAt int64) state.Stroke {
	return state.Stroke{
		CanvasID:  canvasID,
		AuthorID:  author,
		Color:     "#111111",
		Size:      0.006,
		Mode:      state.ModeDraw,
		CreatedAt: createdAt,
		Points:    []state.Point{{X: 0.1, Y: 0.1}, {X: 0.2, Y: 0.2}},
	}
}

func newCanvas(t *testing.T, m *Memory, creator string) Canvas {
	c, err := m.CreateCanvas(context.Background(), "", creator)
	assert.Equal(t, nil, err)
	return c
}

func TestAppendKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCanvas(t, m, "alice")

	id1, err := m.Append(ctx, stroke(c.ID, "alice", 300))
	assert.Equal(t, nil, err)
	id2, err := m.Append(ctx, stroke(c.ID, "bob", 100))
	assert.Equal(t, nil, err)
	assert.NotEqual(t, id1, id2)

	list, err := m.ListByCanvas(ctx, c.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(list))
	assert.Equal(t, id1, list[0].ID)
	assert.Equal(t, id2, list[1].ID)
	assert.Equal(t, int64(100), list[1].CreatedAt)
}

func TestAppendRejects(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCanvas(t, m, "alice")

	_, err := m.Append(ctx, stroke("missing", "alice", 1))
	assert.Equal(t, true, errors.Is(err, ErrNotFound))

	empty := stroke(c.ID, "alice", 1)
	empty.Points = nil
	_, err = m.Append(ctx, empty)
	assert.Equal(t, true, errors.Is(err, ErrInvalidStroke))
}

func TestAppendPoints(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCanvas(t, m, "alice")
	id, _ := m.Append(ctx, stroke(c.ID, "alice", 1))

	err := m.AppendPoints(ctx, id, []state.Point{{X: 0.3, Y: 0.3}}, state.ModeErase)
	assert.Equal(t, nil, err)
	list, _ := m.ListByCanvas(ctx, c.ID)
	assert.Equal(t, 3, len(list[0].Points))
	assert.Equal(t, state.ModeErase, list[0].Mode)

	assert.Equal(t, nil, m.AppendPoints(ctx, "gone", []state.Point{{X: 1, Y: 1}}, state.ModeDraw))
	assert.Equal(t, nil, m.AppendPoints(ctx, id, nil, state.ModeDraw))
}

func TestListReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCanvas(t, m, "alice")
	m.Append(ctx, stroke(c.ID, "alice", 1))

	list, _ := m.ListByCanvas(ctx, c.ID)
	list[0].Points[0].X = 0.9
	again, _ := m.ListByCanvas(ctx, c.ID)
	assert.Equal(t, 0.1, again[0].Points[0].X)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCanvas(t, m, "alice")
	id, _ := m.Append(ctx, stroke(c.ID, "alice", 1))

	assert.Equal(t, nil, m.Delete(ctx, id))
	assert.Equal(t, nil, m.Delete(ctx, id))
	list, _ := m.ListByCanvas(ctx, c.ID)
	assert.Equal(t, 0, len(list))
}

func TestClearDeletesEveryStroke(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCanvas(t, m, "alice")
	other := newCanvas(t, m, "bob")
	for i := 0; i < 4; i++ {
		m.Append(ctx, stroke(c.ID, "alice", int64(i)))
	}
	m.Append(ctx, stroke(other.ID, "bob", 1))

	n, err := m.DeleteAllByCanvas(ctx, c.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 4, n)

	n, err = m.DeleteAllByCanvas(ctx, c.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, n)

	list, _ := m.ListByCanvas(ctx, other.ID)
	assert.Equal(t, 1, len(list))
}

func TestDeleteLatestByAuthor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCanvas(t, m, "alice")
	newest, _ := m.Append(ctx, stroke(c.ID, "alice", 30))
	m.Append(ctx, stroke(c.ID, "alice", 10))
	m.Append(ctx, stroke(c.ID, "bob", 50))

	id, ok, err := m.DeleteLatestByAuthor(ctx, c.ID, "alice")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, newest, id)

	_, ok, _ = m.DeleteLatestByAuthor(ctx, c.ID, "alice")
	assert.Equal(t, true, ok)
	_, ok, _ = m.DeleteLatestByAuthor(ctx, c.ID, "alice")
	assert.Equal(t, false, ok)

	list, _ := m.ListByCanvas(ctx, c.ID)
	assert.Equal(t, 1, len(list))
	assert.Equal(t, "bob", list[0].AuthorID)
}

func TestDeleteCanvasCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCanvas(t, m, "alice")
	m.Append(ctx, stroke(c.ID, "alice", 1))
	m.Append(ctx, stroke(c.ID, "bob", 2))

	_, err := m.DeleteCanvas(ctx, c.ID, "bob")
	assert.Equal(t, ErrForbidden, err)

	n, err := m.DeleteCanvas(ctx, c.ID, "alice")
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, n)

	list, _ := m.ListByCanvas(ctx, c.ID)
	assert.Equal(t, 0, len(list))
	_, err = m.GetCanvas(ctx, c.ID)
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
	_, err = m.GetCanvasBySlug(ctx, c.Slug)
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestCreateCanvasSlugs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	c := newCanvas(t, m, "alice")
	assert.Equal(t, 6, len(c.Slug))
	assert.Equal(t, []string{"alice"}, c.Contributors)

	named, err := m.CreateCanvas(ctx, "ours", "")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ours", named.Slug)
	assert.Equal(t, 0, len(named.Contributors))

	// a taken slug is replaced
	again, err := m.CreateCanvas(ctx, "ours", "")
	assert.Equal(t, nil, err)
	assert.NotEqual(t, "ours", again.Slug)

	got, err := m.GetCanvasBySlug(ctx, "ours")
	assert.Equal(t, nil, err)
	assert.Equal(t, named.ID, got.ID)
}

func TestPublishMakesCanvasReadOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCanvas(t, m, "alice")
	id, _ := m.Append(ctx, stroke(c.ID, "alice", 1))

	_, err := m.TogglePublish(ctx, c.ID, "alice", true)
	assert.Equal(t, ErrTitleRequired, err)

	title := "Our house"
	assert.Equal(t, ErrForbidden, m.UpdateCanvasMetadata(ctx, c.ID, "bob", Metadata{Title: &title}))
	assert.Equal(t, nil, m.UpdateCanvasMetadata(ctx, c.ID, "alice", Metadata{Title: &title}))

	published, err := m.TogglePublish(ctx, c.ID, "alice", true)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, published.Published())
	assert.Equal(t, "Our house", published.Title)

	_, err = m.Append(ctx, stroke(c.ID, "alice", 2))
	assert.Equal(t, true, errors.Is(err, ErrReadOnly))
	assert.Equal(t, true, errors.Is(m.Delete(ctx, id), ErrReadOnly))

	list, _ := m.ListPublished(ctx, 0)
	assert.Equal(t, 1, len(list))

	unpublished, err := m.TogglePublish(ctx, c.ID, "alice", false)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, unpublished.Published())
	_, err = m.Append(ctx, stroke(c.ID, "alice", 2))
	assert.Equal(t, nil, err)
}

func TestListPublishedNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	clock := time.UnixMilli(1000)
	m.now = func() time.Time { return clock }

	title := "t"
	var ids []string
	for i := 0; i < 3; i++ {
		c := newCanvas(t, m, "alice")
		m.UpdateCanvasMetadata(ctx, c.ID, "alice", Metadata{Title: &title})
		clock = clock.Add(time.Second)
		m.TogglePublish(ctx, c.ID, "alice", true)
		ids = append(ids, c.ID)
	}

	list, _ := m.ListPublished(ctx, 2)
	assert.Equal(t, 2, len(list))
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)
}

func TestContributorsAndListings(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	mine := newCanvas(t, m, "alice")
	theirs := newCanvas(t, m, "bob")

	assert.Equal(t, nil, m.AddContributor(ctx, theirs.ID, "alice"))
	assert.Equal(t, nil, m.AddContributor(ctx, theirs.ID, "alice"))
	assert.Equal(t, nil, m.AddContributor(ctx, "missing", "alice"))

	got, _ := m.GetCanvas(ctx, theirs.ID)
	assert.Equal(t, []string{"bob", "alice"}, got.Contributors)

	owned, _ := m.ListOwned(ctx, "alice")
	assert.Equal(t, 1, len(owned))
	assert.Equal(t, mine.ID, owned[0].ID)

	collab, _ := m.ListCollaborations(ctx, "alice")
	assert.Equal(t, 1, len(collab))
	assert.Equal(t, theirs.ID, collab[0].ID)
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()
	c := newCanvas(t, m, "alice")
	m.Append(ctx, stroke(c.ID, "alice", 1))

	ch, err := m.Subscribe(ctx, c.ID)
	assert.Equal(t, nil, err)
	first := <-ch
	assert.Equal(t, 1, len(first))

	m.Append(ctx, stroke(c.ID, "alice", 2))
	second := <-ch
	assert.Equal(t, 2, len(second))

	// a slow reader only sees the latest list
	m.Append(ctx, stroke(c.ID, "alice", 3))
	m.Append(ctx, stroke(c.ID, "alice", 4))
	latest := <-ch
	assert.Equal(t, 4, len(latest))

	cancel()
	for range ch {
	}
}
