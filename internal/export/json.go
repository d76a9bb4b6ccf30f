package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"CoupleCanvas/internal/state"
	"CoupleCanvas/internal/store"

	"github.com/golang/glog"
)

// DocumentVersion is written into every saved document.
const DocumentVersion = 1

// Document is a canvas saved to disk.
type Document struct {
	Version    int            `json:"version"`
	Canvas     *store.Canvas  `json:"canvas,omitempty"`
	Strokes    []state.Stroke `json:"strokes"`
	ExportedAt int64          `json:"exportedAt"`
}

// NewDocument snapshots a canvas and its strokes in paint order.
func NewDocument(canvas *store.Canvas, strokes []state.Stroke) Document {
	return Document{
		Version:    DocumentVersion,
		Canvas:     canvas,
		Strokes:    state.Sorted(strokes),
		ExportedAt: time.Now().UnixMilli(),
	}
}

func SaveJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// LoadJSON reads a document. Strokes without points or with an unknown
// mode are dropped.
func LoadJSON(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("load document: %w", err)
	}
	if doc.Version > DocumentVersion {
		return Document{}, fmt.Errorf("load document: version %d is newer than %d", doc.Version, DocumentVersion)
	}
	kept := doc.Strokes[:0]
	for _, s := range doc.Strokes {
		if s.Empty() || !s.Mode.Valid() {
			glog.Warningf("[export] dropping malformed stroke %q", s.ID)
			continue
		}
		kept = append(kept, s)
	}
	doc.Strokes = kept
	return doc, nil
}

// Import appends the document's strokes to canvasID in one batch, keeping
// their authors and creation times. It returns the new stroke ids.
func Import(ctx context.Context, st store.StrokeStore, canvasID string, doc Document) ([]string, error) {
	if len(doc.Strokes) == 0 {
		return nil, nil
	}
	strokes := make([]state.Stroke, len(doc.Strokes))
	for i, s := range state.Sorted(doc.Strokes) {
		s = s.Clone()
		s.ID = ""
		s.CanvasID = canvasID
		strokes[i] = s
	}
	ids, err := st.AppendMany(ctx, strokes)
	if err != nil {
		return nil, fmt.Errorf("import into %s: %w", canvasID, err)
	}
	glog.Infof("[export] imported %d strokes into %s", len(ids), canvasID)
	return ids, nil
}
