package state

import (
	"time"
)

// Matcher decides which authoritative stroke, if any, represents a pending
// stroke. candidates are sorted by CreatedAt and exclude strokes that were
// already claimed by another pending stroke.
type Matcher interface {
	Match(p PendingStroke, candidates []Stroke) (index int, ok bool)
}

// HeuristicMatcher correlates by author, creation time and point count.
// It is used on the batch write path where the client never learns the
// store id.
type HeuristicMatcher struct {
	Tolerance  time.Duration
	PointSlack int
}

const (
	DefaultTolerance  = 100 * time.Millisecond
	DefaultPointSlack = 1
)

// DefaultMatcher matches by store id when one is known and by the
// heuristic with the default window and slack otherwise.
func DefaultMatcher() Matcher {
	return ExactOr(HeuristicMatcher{Tolerance: DefaultTolerance, PointSlack: DefaultPointSlack})
}

// Match returns the candidate with the closest CreatedAt. Ties go to the
// smaller point count difference, then to the earlier candidate. The
// window is closed: a candidate exactly Tolerance away still matches.
func (m HeuristicMatcher) Match(p PendingStroke, candidates []Stroke) (int, bool) {
	tolerance := m.Tolerance.Milliseconds()
	best := -1
	var bestDt int64
	var bestDn int
	for i, s := range candidates {
		if s.AuthorID != p.AuthorID {
			continue
		}
		dt := abs64(s.CreatedAt - p.CreatedAt)
		if dt > tolerance {
			continue
		}
		dn := absInt(len(s.Points) - len(p.Points))
		if dn > m.PointSlack {
			continue
		}
		if best < 0 || dt < bestDt || (dt == bestDt && dn < bestDn) {
			best, bestDt, bestDn = i, dt, dn
		}
	}
	return best, best >= 0
}

// ExactMatcher correlates by store id when the write path reported one.
// A streamed stroke only counts once every captured point has arrived.
type ExactMatcher struct{}

func (ExactMatcher) Match(p PendingStroke, candidates []Stroke) (int, bool) {
	if p.StoreID == "" {
		return -1, false
	}
	for i, s := range candidates {
		if s.ID == p.StoreID && len(s.Points) >= len(p.Points) {
			return i, true
		}
	}
	return -1, false
}

type exactOr struct {
	fallback Matcher
}

// ExactOr decides by store id alone once a pending stroke has one, so a
// partial copy of a streamed stroke never confirms it. Strokes without a
// store id go to fallback.
func ExactOr(fallback Matcher) Matcher {
	return exactOr{fallback: fallback}
}

func (m exactOr) Match(p PendingStroke, candidates []Stroke) (int, bool) {
	if p.StoreID != "" {
		return ExactMatcher{}.Match(p, candidates)
	}
	return m.fallback.Match(p, candidates)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
