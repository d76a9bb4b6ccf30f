package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"CoupleCanvas/internal/state"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
)

const (
	slugLength   = 6
	slugAttempts = 5
	slugAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	DefaultPublishedLimit = 50
)

// Memory is an in-process Store. Strokes keep insertion order per canvas
// and every change pushes a fresh snapshot to subscribers.
type Memory struct {
	strokes  map[string]*state.Stroke
	order    map[string][]string // canvas id -> stroke ids in insertion order
	canvases map[string]*Canvas
	slugs    map[string]string // slug -> canvas id
	hub      *Hub[[]state.Stroke]
	now      func() time.Time

	mu sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		strokes:  make(map[string]*state.Stroke),
		order:    make(map[string][]string),
		canvases: make(map[string]*Canvas),
		slugs:    make(map[string]string),
		hub:      NewHub[[]state.Stroke](),
		now:      time.Now,
	}
}

func newID() string {
	return ulid.Make().String()
}

// ListByCanvas implements StrokeStore.
func (m *Memory) ListByCanvas(ctx context.Context, canvasID string) ([]state.Stroke, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(canvasID), nil
}

func (m *Memory) snapshot(canvasID string) []state.Stroke {
	ids := m.order[canvasID]
	out := make([]state.Stroke, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.strokes[id].Clone())
	}
	return out
}

// publish must be called with the write lock held so snapshots reach
// subscribers in the order the changes happened.
func (m *Memory) publish(canvasID string) {
	snap := m.snapshot(canvasID)
	glog.V(2).Infof("[store] canvas %s now has %d strokes", canvasID, len(snap))
	m.hub.Publish(canvasID, snap)
}

// writable checks that strokes may change on the canvas.
func (m *Memory) writable(canvasID string) error {
	c, ok := m.canvases[canvasID]
	if !ok {
		return fmt.Errorf("canvas %s: %w", canvasID, ErrNotFound)
	}
	if c.Published() {
		return fmt.Errorf("canvas %s: %w", canvasID, ErrReadOnly)
	}
	return nil
}

func validate(s state.Stroke) error {
	if len(s.Points) == 0 {
		return fmt.Errorf("no points: %w", ErrInvalidStroke)
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("mode %q: %w", s.Mode, ErrInvalidStroke)
	}
	return nil
}

func (m *Memory) insert(s state.Stroke) string {
	c := s.Clone()
	c.ID = newID()
	m.strokes[c.ID] = &c
	m.order[c.CanvasID] = append(m.order[c.CanvasID], c.ID)
	return c.ID
}

// Append implements StrokeStore.
func (m *Memory) Append(ctx context.Context, s state.Stroke) (string, error) {
	if err := validate(s); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(s.CanvasID); err != nil {
		return "", err
	}
	id := m.insert(s)
	glog.V(2).Infof("[store] appended %s to %s (%d points)", id, s.CanvasID, len(s.Points))
	m.publish(s.CanvasID)
	return id, nil
}

// AppendMany inserts all strokes or none.
func (m *Memory) AppendMany(ctx context.Context, strokes []state.Stroke) ([]string, error) {
	for i, s := range strokes {
		if err := validate(s); err != nil {
			return nil, fmt.Errorf("stroke %d: %w", i, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := make(map[string]struct{})
	for _, s := range strokes {
		if err := m.writable(s.CanvasID); err != nil {
			return nil, err
		}
		touched[s.CanvasID] = struct{}{}
	}
	ids := make([]string, len(strokes))
	for i, s := range strokes {
		ids[i] = m.insert(s)
	}
	for canvasID := range touched {
		m.publish(canvasID)
	}
	return ids, nil
}

// AppendPoints implements StrokeStore.
func (m *Memory) AppendPoints(ctx context.Context, strokeID string, points []state.Point, mode state.Mode) error {
	if len(points) == 0 {
		return nil
	}
	if !mode.Valid() {
		return fmt.Errorf("mode %q: %w", mode, ErrInvalidStroke)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strokes[strokeID]
	if !ok {
		glog.V(1).Infof("[store] append points to missing stroke %s", strokeID)
		return nil
	}
	if err := m.writable(s.CanvasID); err != nil {
		return err
	}
	s.Points = append(s.Points, points...)
	s.Mode = mode
	m.publish(s.CanvasID)
	return nil
}

// Delete implements StrokeStore.
func (m *Memory) Delete(ctx context.Context, strokeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strokes[strokeID]
	if !ok {
		return nil
	}
	if err := m.writable(s.CanvasID); err != nil {
		return err
	}
	m.remove(s.CanvasID, strokeID)
	m.publish(s.CanvasID)
	return nil
}

func (m *Memory) remove(canvasID, strokeID string) {
	delete(m.strokes, strokeID)
	ids := m.order[canvasID]
	for i, id := range ids {
		if id == strokeID {
			m.order[canvasID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(m.order[canvasID]) == 0 {
		delete(m.order, canvasID)
	}
}

// DeleteAllByCanvas implements StrokeStore.
func (m *Memory) DeleteAllByCanvas(ctx context.Context, canvasID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.canvases[canvasID]; ok && c.Published() {
		return 0, fmt.Errorf("canvas %s: %w", canvasID, ErrReadOnly)
	}
	n := m.clear(canvasID)
	glog.Infof("[store] cleared %d strokes from %s", n, canvasID)
	return n, nil
}

func (m *Memory) clear(canvasID string) int {
	ids := m.order[canvasID]
	for _, id := range ids {
		delete(m.strokes, id)
	}
	delete(m.order, canvasID)
	if len(ids) > 0 {
		m.publish(canvasID)
	}
	return len(ids)
}

// DeleteLatestByAuthor implements StrokeStore.
func (m *Memory) DeleteLatestByAuthor(ctx context.Context, canvasID, authorID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *state.Stroke
	for _, id := range m.order[canvasID] {
		s := m.strokes[id]
		if s.AuthorID != authorID {
			continue
		}
		// later insertion wins a createdAt tie
		if latest == nil || s.CreatedAt >= latest.CreatedAt {
			latest = s
		}
	}
	if latest == nil {
		return "", false, nil
	}
	if err := m.writable(canvasID); err != nil {
		return "", false, err
	}
	id := latest.ID
	m.remove(canvasID, id)
	m.publish(canvasID)
	return id, true, nil
}

// Subscribe implements Subscriber.
func (m *Memory) Subscribe(ctx context.Context, canvasID string) (<-chan []state.Stroke, error) {
	// holding the read lock keeps a write from slipping between the
	// initial snapshot and registration
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hub.Subscribe(ctx, canvasID, m.snapshot(canvasID)), nil
}

func randomSlug() (string, error) {
	var b strings.Builder
	base := big.NewInt(int64(len(slugAlphabet)))
	for i := 0; i < slugLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(slugAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// CreateCanvas implements CanvasStore. A taken slug is replaced by a
// random one, up to a few attempts.
func (m *Memory) CreateCanvas(ctx context.Context, slug, creatorID string) (Canvas, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if slug == "" {
		if slug, err = randomSlug(); err != nil {
			return Canvas{}, err
		}
	}
	for i := 0; i < slugAttempts; i++ {
		if _, taken := m.slugs[slug]; !taken {
			break
		}
		if slug, err = randomSlug(); err != nil {
			return Canvas{}, err
		}
	}
	if _, taken := m.slugs[slug]; taken {
		return Canvas{}, fmt.Errorf("slug %s already taken", slug)
	}

	c := &Canvas{
		ID:           newID(),
		Slug:         slug,
		CreatedAt:    m.now().UnixMilli(),
		CreatorID:    creatorID,
		Contributors: []string{},
	}
	if creatorID != "" {
		c.Contributors = append(c.Contributors, creatorID)
	}
	m.canvases[c.ID] = c
	m.slugs[slug] = c.ID
	glog.Infof("[store] created canvas %s (%s)", c.Slug, c.ID)
	return c.clone(), nil
}

func (c *Canvas) clone() Canvas {
	out := *c
	out.Contributors = append([]string{}, c.Contributors...)
	return out
}

func (m *Memory) GetCanvas(ctx context.Context, canvasID string) (Canvas, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.canvases[canvasID]
	if !ok {
		return Canvas{}, fmt.Errorf("canvas %s: %w", canvasID, ErrNotFound)
	}
	return c.clone(), nil
}

func (m *Memory) GetCanvasBySlug(ctx context.Context, slug string) (Canvas, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.slugs[slug]
	if !ok {
		return Canvas{}, fmt.Errorf("slug %s: %w", slug, ErrNotFound)
	}
	return m.canvases[id].clone(), nil
}

// owned returns the canvas when userID created it.
func (m *Memory) owned(canvasID, userID string) (*Canvas, error) {
	c, ok := m.canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("canvas %s: %w", canvasID, ErrNotFound)
	}
	if c.CreatorID == "" || c.CreatorID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}

func (m *Memory) UpdateCanvasMetadata(ctx context.Context, canvasID, userID string, meta Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.owned(canvasID, userID)
	if err != nil {
		return err
	}
	if meta.Title != nil {
		c.Title = *meta.Title
	}
	if meta.Description != nil {
		c.Description = *meta.Description
	}
	return nil
}

func (m *Memory) TogglePublish(ctx context.Context, canvasID, userID string, publish bool) (Canvas, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.owned(canvasID, userID)
	if err != nil {
		return Canvas{}, err
	}
	if !publish {
		c.PublishedAt = 0
		return c.clone(), nil
	}
	if strings.TrimSpace(c.Title) == "" {
		return Canvas{}, ErrTitleRequired
	}
	c.PublishedAt = m.now().UnixMilli()
	glog.Infof("[store] published canvas %s", c.Slug)
	return c.clone(), nil
}

// AddContributor implements CanvasStore. Unknown canvases are ignored.
func (m *Memory) AddContributor(ctx context.Context, canvasID, userID string) error {
	if userID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.canvases[canvasID]
	if !ok {
		return nil
	}
	for _, id := range c.Contributors {
		if id == userID {
			return nil
		}
	}
	c.Contributors = append(c.Contributors, userID)
	return nil
}

// ListPublished returns published canvases, newest first.
func (m *Memory) ListPublished(ctx context.Context, limit int) ([]Canvas, error) {
	if limit <= 0 {
		limit = DefaultPublishedLimit
	}
	out := m.filter(func(c *Canvas) bool { return c.Published() })
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt > out[j].PublishedAt
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListOwned(ctx context.Context, userID string) ([]Canvas, error) {
	return m.filter(func(c *Canvas) bool {
		return userID != "" && c.CreatorID == userID
	}), nil
}

// ListCollaborations returns canvases userID contributed to but did not create.
func (m *Memory) ListCollaborations(ctx context.Context, userID string) ([]Canvas, error) {
	return m.filter(func(c *Canvas) bool {
		if userID == "" || c.CreatorID == userID {
			return false
		}
		for _, id := range c.Contributors {
			if id == userID {
				return true
			}
		}
		return false
	}), nil
}

// filter returns matching canvases ordered by creation.
func (m *Memory) filter(keep func(c *Canvas) bool) []Canvas {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Canvas{}
	for _, c := range m.canvases {
		if keep(c) {
			out = append(out, c.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DeleteCanvas implements CanvasStore.
func (m *Memory) DeleteCanvas(ctx context.Context, canvasID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.owned(canvasID, userID)
	if err != nil {
		return 0, err
	}
	n := m.clear(canvasID)
	delete(m.slugs, c.Slug)
	delete(m.canvases, canvasID)
	glog.Infof("[store] deleted canvas %s and %d strokes", c.Slug, n)
	return n, nil
}
