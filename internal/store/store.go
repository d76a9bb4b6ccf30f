// Package store holds the authoritative strokes and canvas records.
package store

import (
	"context"
	"errors"

	"CoupleCanvas/internal/state"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrForbidden     = errors.New("store: only the creator can do that")
	ErrReadOnly      = errors.New("store: canvas is published and read-only")
	ErrTitleRequired = errors.New("store: title is required to publish a canvas")
	ErrInvalidStroke = errors.New("store: invalid stroke")
)

// StrokeStore is the durable stroke list of every canvas.
type StrokeStore interface {
	// ListByCanvas returns the canvas strokes in insertion order.
	ListByCanvas(ctx context.Context, canvasID string) ([]state.Stroke, error)
	// Append stores a new stroke and returns its id. s.ID is ignored.
	Append(ctx context.Context, s state.Stroke) (string, error)
	AppendMany(ctx context.Context, strokes []state.Stroke) ([]string, error)
	// AppendPoints concatenates points to an existing stroke and replaces
	// its mode. Unknown ids are ignored.
	AppendPoints(ctx context.Context, strokeID string, points []state.Point, mode state.Mode) error
	// Delete removes a stroke. Deleting a missing id is not an error.
	Delete(ctx context.Context, strokeID string) error
	DeleteAllByCanvas(ctx context.Context, canvasID string) (int, error)
	// DeleteLatestByAuthor removes the author's stroke with the greatest
	// CreatedAt on the canvas.
	DeleteLatestByAuthor(ctx context.Context, canvasID, authorID string) (string, bool, error)
}

// Subscriber pushes the full stroke list of a canvas whenever it changes.
// The first delivery is the current list. The channel closes when ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, canvasID string) (<-chan []state.Stroke, error)
}

// Canvas is the record every stroke hangs off.
type Canvas struct {
	ID           string   `json:"id"`
	Slug         string   `json:"slug"`
	CreatedAt    int64    `json:"createdAt"`
	CreatorID    string   `json:"creatorId,omitempty"`
	Contributors []string `json:"contributors"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	PublishedAt  int64    `json:"publishedAt,omitempty"` // zero while unpublished
}

func (c Canvas) Published() bool {
	return c.PublishedAt != 0
}

// Metadata is a partial update. Nil fields are left alone.
type Metadata struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CanvasStore interface {
	// CreateCanvas picks a random slug when slug is empty.
	CreateCanvas(ctx context.Context, slug, creatorID string) (Canvas, error)
	GetCanvas(ctx context.Context, canvasID string) (Canvas, error)
	GetCanvasBySlug(ctx context.Context, slug string) (Canvas, error)
	UpdateCanvasMetadata(ctx context.Context, canvasID, userID string, meta Metadata) error
	TogglePublish(ctx context.Context, canvasID, userID string, publish bool) (Canvas, error)
	AddContributor(ctx context.Context, canvasID, userID string) error
	ListPublished(ctx context.Context, limit int) ([]Canvas, error)
	ListOwned(ctx context.Context, userID string) ([]Canvas, error)
	ListCollaborations(ctx context.Context, userID string) ([]Canvas, error)
	// DeleteCanvas removes the canvas and all of its strokes, returning
	// the number of strokes deleted.
	DeleteCanvas(ctx context.Context, canvasID, userID string) (int, error)
}

// Store is everything a canvas server offers.
type Store interface {
	StrokeStore
	Subscriber
	CanvasStore
}
