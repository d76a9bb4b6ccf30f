package net

import (
	"encoding/json"
	"errors"

	"CoupleCanvas/internal/presence"
	"CoupleCanvas/internal/state"
	"CoupleCanvas/internal/store"
)

// ErrClosed is returned for calls on a connection that went away.
var ErrClosed = errors.New("net: connection closed")

// Request types. Every request carries an id and is answered by a
// "result" or an "error" message with the same id.
const (
	TypeList               = "list"
	TypeAppend             = "append"
	TypeAppendMany         = "appendMany"
	TypeAppendPoints       = "appendPoints"
	TypeDelete             = "delete"
	TypeClear              = "clear"
	TypeDeleteLatest       = "deleteLatest"
	TypeSubscribe          = "subscribe"
	TypeUnsubscribe        = "unsubscribe"
	TypeCreateCanvas       = "createCanvas"
	TypeGetCanvas          = "getCanvas"
	TypeGetCanvasBySlug    = "getCanvasBySlug"
	TypeUpdateMetadata     = "updateMetadata"
	TypePublish            = "publish"
	TypeAddContributor     = "addContributor"
	TypeListPublished      = "listPublished"
	TypeListOwned          = "listOwned"
	TypeListCollaborations = "listCollaborations"
	TypeDeleteCanvas       = "deleteCanvas"
	TypeHeartbeat          = "heartbeat"
	TypePresenceList       = "presenceList"
	TypePresenceUpdate     = "presenceUpdate"
	TypeDisconnect         = "disconnect"
	TypeWatch              = "watch"
	TypeUnwatch            = "unwatch"

	TypeResult = "result"
	TypeError  = "error"

	// pushes, keyed by the id of the subscribe or watch request
	TypeStrokes  = "strokes"
	TypePresence = "presence"
)

// Message is the single JSON envelope used in both directions. Only the
// fields a type needs are set.
type Message struct {
	Type  string `json:"type"`
	ID    uint64 `json:"id,omitempty"`
	Sub   uint64 `json:"sub,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`

	CanvasID string         `json:"canvasId,omitempty"`
	StrokeID string         `json:"strokeId,omitempty"`
	UserID   string         `json:"userId,omitempty"`
	Slug     string         `json:"slug,omitempty"`
	Stroke   *state.Stroke  `json:"stroke,omitempty"`
	Strokes  []state.Stroke `json:"strokes,omitempty"`
	Points   []state.Point  `json:"points,omitempty"`
	Mode     state.Mode     `json:"mode,omitempty"`
	IDs      []string       `json:"ids,omitempty"`
	Count    int            `json:"count,omitempty"`
	OK       bool           `json:"ok,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Publish  bool           `json:"publish,omitempty"`

	Canvas   *store.Canvas   `json:"canvas,omitempty"`
	Canvases []store.Canvas  `json:"canvases,omitempty"`
	Meta     *store.Metadata `json:"meta,omitempty"`

	RoomID       string           `json:"roomId,omitempty"`
	SessionID    string           `json:"sessionId,omitempty"`
	IntervalMs   int64            `json:"intervalMs,omitempty"`
	Tokens       *presence.Tokens `json:"tokens,omitempty"`
	RoomToken    string           `json:"roomToken,omitempty"`
	SessionToken string           `json:"sessionToken,omitempty"`
	Data         *presence.Data   `json:"data,omitempty"`
	Entries      []presence.Entry `json:"entries,omitempty"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func Decode(b []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(b, &m)
	return m, err
}

// codes let sentinel errors survive the trip to the client.
var codes = map[string]error{
	"not_found":      store.ErrNotFound,
	"forbidden":      store.ErrForbidden,
	"read_only":      store.ErrReadOnly,
	"title_required": store.ErrTitleRequired,
	"invalid_stroke": store.ErrInvalidStroke,
	"invalid_token":  presence.ErrInvalidToken,
	"closed":         ErrClosed,
}

func errorMessage(id uint64, err error) Message {
	m := Message{Type: TypeError, ID: id, Error: err.Error()}
	for code, sentinel := range codes {
		if errors.Is(err, sentinel) {
			m.Code = code
			break
		}
	}
	return m
}

// remoteError is an error reported by the server.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

func (m Message) err() error {
	if m.Type != TypeError {
		return nil
	}
	return &remoteError{msg: m.Error, sentinel: codes[m.Code]}
}
