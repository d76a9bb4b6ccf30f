package state

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func points(n int) []Point {
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = Point{X: float64(i) / 10, Y: 0.5, T: float64(i)}
	}
	return pts
}

func TestHeuristicMatch(t *testing.T) {
	m := HeuristicMatcher{Tolerance: 50 * time.Millisecond, PointSlack: 1}
	pending := PendingStroke{AuthorID: "A", CreatedAt: 1000, Points: points(5)}

	_, ok := m.Match(pending, []Stroke{{ID: "1", AuthorID: "A", CreatedAt: 1050, Points: points(5)}})
	assert.Equal(t, true, ok)

	_, ok = m.Match(pending, []Stroke{{ID: "2", AuthorID: "B", CreatedAt: 1000, Points: points(5)}})
	assert.Equal(t, false, ok)

	_, ok = m.Match(pending, []Stroke{{ID: "3", AuthorID: "A", CreatedAt: 5000, Points: points(5)}})
	assert.Equal(t, false, ok)

	_, ok = m.Match(pending, []Stroke{{ID: "4", AuthorID: "A", CreatedAt: 1000, Points: points(7)}})
	assert.Equal(t, false, ok)

	_, ok = m.Match(pending, []Stroke{{ID: "5", AuthorID: "A", CreatedAt: 1000, Points: points(4)}})
	assert.Equal(t, true, ok)
}

func TestHeuristicMatchWideWindow(t *testing.T) {
	m := HeuristicMatcher{Tolerance: 100 * time.Millisecond, PointSlack: 1}
	pending := PendingStroke{AuthorID: "A", CreatedAt: 1000, Points: points(5)}
	i, ok := m.Match(pending, []Stroke{{ID: "1", AuthorID: "A", CreatedAt: 1050, Points: points(5)}})
	assert.Equal(t, true, ok)
	assert.Equal(t, 0, i)
}

func TestHeuristicMatchClosestWins(t *testing.T) {
	m := HeuristicMatcher{Tolerance: 100 * time.Millisecond, PointSlack: 1}
	pending := PendingStroke{AuthorID: "A", CreatedAt: 1000, Points: points(5)}
	candidates := []Stroke{
		{ID: "far", AuthorID: "A", CreatedAt: 940, Points: points(5)},
		{ID: "near", AuthorID: "A", CreatedAt: 1010, Points: points(5)},
		{ID: "fewer-points", AuthorID: "A", CreatedAt: 1010, Points: points(4)},
	}
	i, ok := m.Match(pending, candidates)
	assert.Equal(t, true, ok)
	assert.Equal(t, "near", candidates[i].ID)

	// reordering the candidates does not change the winner
	candidates[0], candidates[1] = candidates[1], candidates[0]
	i, ok = m.Match(pending, candidates)
	assert.Equal(t, true, ok)
	assert.Equal(t, "near", candidates[i].ID)
}

func TestExactMatcherFirst(t *testing.T) {
	m := DefaultMatcher()
	pending := PendingStroke{AuthorID: "A", CreatedAt: 1000, Points: points(3), StoreID: "s2"}
	candidates := []Stroke{
		{ID: "s1", AuthorID: "A", CreatedAt: 1000, Points: points(3)},
		{ID: "s2", AuthorID: "A", CreatedAt: 1000, Points: points(3)},
	}
	i, ok := m.Match(pending, candidates)
	assert.Equal(t, true, ok)
	assert.Equal(t, "s2", candidates[i].ID)
}

func TestExactMatcherWaitsForAllPoints(t *testing.T) {
	pending := PendingStroke{AuthorID: "A", CreatedAt: 1000, Points: points(9), StoreID: "s1"}
	_, ok := ExactMatcher{}.Match(pending, []Stroke{{ID: "s1", AuthorID: "A", CreatedAt: 1000, Points: points(2)}})
	assert.Equal(t, false, ok)
	_, ok = ExactMatcher{}.Match(pending, []Stroke{{ID: "s1", AuthorID: "A", CreatedAt: 1000, Points: points(9)}})
	assert.Equal(t, true, ok)
}

func TestHeuristicWindowIsClosed(t *testing.T) {
	m := HeuristicMatcher{Tolerance: 100 * time.Millisecond, PointSlack: 1}
	pending := PendingStroke{AuthorID: "A", CreatedAt: 1000, Points: points(5)}
	_, ok := m.Match(pending, []Stroke{{ID: "edge", AuthorID: "A", CreatedAt: 1100, Points: points(5)}})
	assert.Equal(t, true, ok)
	_, ok = m.Match(pending, []Stroke{{ID: "edge", AuthorID: "A", CreatedAt: 899, Points: points(5)}})
	assert.Equal(t, false, ok)
}

func TestStoreIDDisablesHeuristic(t *testing.T) {
	m := DefaultMatcher()
	pending := PendingStroke{AuthorID: "A", CreatedAt: 1000, Points: points(3), StoreID: "s1"}
	partial := []Stroke{{ID: "s1", AuthorID: "A", CreatedAt: 1000, Points: points(2)}}
	_, ok := m.Match(pending, partial)
	assert.Equal(t, false, ok)

	pending.StoreID = ""
	_, ok = m.Match(pending, partial)
	assert.Equal(t, true, ok)
}
