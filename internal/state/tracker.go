package state

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

// UndoKind tells which set an undo was taken from.
type UndoKind int

const (
	UndoNone UndoKind = iota
	UndoPending
	UndoAuthoritative
)

// Undo describes the stroke removed by Tracker.Undo.
type Undo struct {
	Kind     UndoKind
	LocalID  string // set for UndoPending
	StrokeID string // set for UndoAuthoritative, or UndoPending when the store id was known
}

type TrackerConfig struct {
	AuthorID string
	Matcher  Matcher
	Clock    Clock
	// UndoneTTL bounds how long a stroke undone before confirmation keeps
	// hiding its authoritative echo.
	UndoneTTL time.Duration
}

type undoneStroke struct {
	PendingStroke
	at int64
}

// Tracker holds the optimistic view of one canvas for one author: strokes
// sent but not yet seen through the subscription, and tombstones for
// strokes deleted locally ahead of the store.
type Tracker struct {
	authorID  string
	matcher   Matcher
	clock     Clock
	undoneTTL int64

	pending       []PendingStroke
	authoritative []Stroke
	// ids hidden locally until the store stops returning them
	tombstones map[string]struct{}
	// ids already used to confirm a pending stroke
	claimed map[string]struct{}
	undone  []undoneStroke

	mu sync.RWMutex
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Matcher == nil {
		cfg.Matcher = DefaultMatcher()
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock()
	}
	if cfg.UndoneTTL <= 0 {
		cfg.UndoneTTL = 30 * time.Second
	}
	return &Tracker{
		authorID:   cfg.AuthorID,
		matcher:    cfg.Matcher,
		clock:      cfg.Clock,
		undoneTTL:  cfg.UndoneTTL.Milliseconds(),
		tombstones: make(map[string]struct{}),
		claimed:    make(map[string]struct{}),
	}
}

// AuthorID returns the author whose strokes this tracker owns.
func (t *Tracker) AuthorID() string {
	return t.authorID
}

// Add records a finished local stroke.
func (t *Tracker) Add(p PendingStroke) {
	if len(p.Points) == 0 {
		return
	}
	if p.AuthorID == "" {
		p.AuthorID = t.authorID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, p)
	glog.V(2).Infof("[tracker] pending %s (%d points)", p.LocalID, len(p.Points))
}

// Confirm marks a pending stroke as durably written. storeID may be empty
// when the write path does not return one.
func (t *Tracker) Confirm(localID, storeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.pending {
		if t.pending[i].LocalID == localID {
			t.pending[i].Confirmed = true
			if storeID != "" {
				t.pending[i].StoreID = storeID
			}
			return true
		}
	}
	for i := range t.undone {
		if t.undone[i].LocalID == localID {
			t.undone[i].Confirmed = true
			if storeID != "" {
				t.undone[i].StoreID = storeID
			}
			return true
		}
	}
	return false
}

// Reconcile replaces the authoritative list with a new snapshot, drops
// pending strokes the snapshot now represents and evicts tombstones whose
// stroke is gone. It returns the number of pending strokes matched.
func (t *Tracker) Reconcile(snapshot []Stroke) int {
	sorted := Sorted(snapshot)
	present := make(map[string]struct{}, len(sorted))
	for _, s := range sorted {
		present[s.ID] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.tombstones {
		if _, ok := present[id]; !ok {
			delete(t.tombstones, id)
		}
	}
	for id := range t.claimed {
		if _, ok := present[id]; !ok {
			delete(t.claimed, id)
		}
	}

	matched := 0
	remaining := t.pending[:0]
	for _, p := range t.pending {
		if id, ok := t.claim(p, sorted); ok {
			matched++
			glog.V(2).Infof("[tracker] pending %s confirmed as %s", p.LocalID, id)
			continue
		}
		remaining = append(remaining, p)
	}
	t.pending = remaining

	now := t.clock.Now()
	undone := t.undone[:0]
	for _, u := range t.undone {
		if now-u.at > t.undoneTTL {
			continue
		}
		if id, ok := t.claim(u.PendingStroke, sorted); ok {
			t.tombstones[id] = struct{}{}
			continue
		}
		undone = append(undone, u)
	}
	t.undone = undone

	t.authoritative = sorted
	return matched
}

// claim finds an unclaimed authoritative stroke for p and marks it claimed.
func (t *Tracker) claim(p PendingStroke, sorted []Stroke) (string, bool) {
	candidates := make([]Stroke, 0, len(sorted))
	for _, s := range sorted {
		if _, ok := t.claimed[s.ID]; !ok {
			candidates = append(candidates, s)
		}
	}
	i, ok := t.matcher.Match(p, candidates)
	if !ok {
		return "", false
	}
	id := candidates[i].ID
	t.claimed[id] = struct{}{}
	return id, true
}

// Visible returns the authoritative strokes minus tombstoned ones, in
// render order.
func (t *Tracker) Visible() []Stroke {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Stroke, 0, len(t.authoritative))
	for _, s := range t.authoritative {
		if _, hidden := t.tombstones[s.ID]; hidden {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Pending returns the strokes still waiting for the store, oldest first.
func (t *Tracker) Pending() []PendingStroke {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PendingStroke, len(t.pending))
	copy(out, t.pending)
	return out
}

// Tombstoned reports whether id is hidden locally.
func (t *Tracker) Tombstoned(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tombstones[id]
	return ok
}

// Tombstones returns the number of active tombstones.
func (t *Tracker) Tombstones() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tombstones)
}

// Undo removes exactly one stroke from the local view: the newest pending
// stroke if any, otherwise the author's newest visible authoritative stroke.
func (t *Tracker) Undo() Undo {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) > 0 {
		latest := 0
		for i, p := range t.pending {
			if p.CreatedAt >= t.pending[latest].CreatedAt {
				latest = i
			}
		}
		p := t.pending[latest]
		t.pending = append(t.pending[:latest], t.pending[latest+1:]...)
		t.undone = append(t.undone, undoneStroke{PendingStroke: p, at: t.clock.Now()})
		return Undo{Kind: UndoPending, LocalID: p.LocalID, StrokeID: p.StoreID}
	}

	latest := -1
	for i, s := range t.authoritative {
		if s.AuthorID != t.authorID {
			continue
		}
		if _, hidden := t.tombstones[s.ID]; hidden {
			continue
		}
		if latest < 0 || s.CreatedAt >= t.authoritative[latest].CreatedAt {
			latest = i
		}
	}
	if latest < 0 {
		return Undo{Kind: UndoNone}
	}
	id := t.authoritative[latest].ID
	t.tombstones[id] = struct{}{}
	return Undo{Kind: UndoAuthoritative, StrokeID: id}
}

// Clear hides every authoritative stroke and abandons every pending one.
// It returns how many strokes disappeared from the local view.
func (t *Tracker) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.authoritative {
		if _, hidden := t.tombstones[s.ID]; !hidden {
			t.tombstones[s.ID] = struct{}{}
			n++
		}
	}
	now := t.clock.Now()
	for _, p := range t.pending {
		t.undone = append(t.undone, undoneStroke{PendingStroke: p, at: now})
		n++
	}
	t.pending = nil
	return n
}
