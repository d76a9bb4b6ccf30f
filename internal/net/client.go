package net

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"CoupleCanvas/internal/presence"
	"CoupleCanvas/internal/state"
	"CoupleCanvas/internal/store"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// Client talks to a Server. It implements store.Store, presence.Service
// and presence.Watcher, so a board session runs the same against a remote
// canvas as against a local one.
type Client struct {
	ws     *websocket.Conn
	send   chan []byte
	nextID atomic.Uint64

	calls   map[uint64]chan Message
	strokes map[uint64]chan []state.Stroke
	rooms   map[uint64]chan []presence.Entry
	closed  bool
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ store.Store      = (*Client)(nil)
	_ presence.Service = (*Client)(nil)
	_ presence.Watcher = (*Client)(nil)
)

// Dial connects to a server at a ws:// url.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		calls:   make(map[uint64]chan Message),
		strokes: make(map[uint64]chan []state.Stroke),
		rooms:   make(map[uint64]chan []presence.Entry),
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	glog.Infof("[net] connected to %s", url)
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.cancel()
	<-c.done
	return nil
}

func (c *Client) writeLoop() {
	defer c.cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.ws.Close()
			return
		case b := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				glog.Infof("[net] write: %v", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.shutdown()
	defer c.cancel()

	c.ws.SetReadLimit(maxMessage)
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	// the server pings too; answering refreshes our deadline
	c.ws.SetPingHandler(func(data string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})
	for {
		messageType, b, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				glog.Infof("[net] read: %v", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		if messageType != websocket.TextMessage {
			continue
		}
		m, err := Decode(b)
		if err != nil {
			glog.Warningf("[net] bad message: %v", err)
			continue
		}
		c.dispatch(m)
	}
}

func (c *Client) dispatch(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m.Type {
	case TypeResult, TypeError:
		if ch, ok := c.calls[m.ID]; ok {
			delete(c.calls, m.ID)
			ch <- m
		}
	case TypeStrokes:
		if ch, ok := c.strokes[m.Sub]; ok {
			latest(ch, m.Strokes)
		}
	case TypePresence:
		if ch, ok := c.rooms[m.Sub]; ok {
			latest(ch, m.Entries)
		}
	default:
		glog.V(1).Infof("[net] ignoring %s", m.Type)
	}
}

// latest replaces any undelivered value in a one-slot channel.
func latest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// shutdown fails outstanding calls and ends every subscription.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.calls {
		ch <- errorMessage(id, ErrClosed)
		delete(c.calls, id)
	}
	for id, ch := range c.strokes {
		close(ch)
		delete(c.strokes, id)
	}
	for id, ch := range c.rooms {
		close(ch)
		delete(c.rooms, id)
	}
}

func (c *Client) call(ctx context.Context, req Message) (Message, error) {
	if req.ID == 0 {
		req.ID = c.nextID.Add(1)
	}
	reply := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	c.calls[req.ID] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.calls, req.ID)
		c.mu.Unlock()
	}
	b, err := req.Encode()
	if err != nil {
		forget()
		return Message{}, err
	}
	select {
	case c.send <- b:
	case <-ctx.Done():
		forget()
		return Message{}, ctx.Err()
	case <-c.ctx.Done():
		forget()
		return Message{}, ErrClosed
	}

	select {
	case m := <-reply:
		if err := m.err(); err != nil {
			return Message{}, err
		}
		return m, nil
	case <-ctx.Done():
		forget()
		return Message{}, ctx.Err()
	}
}

func (c *Client) ListByCanvas(ctx context.Context, canvasID string) ([]state.Stroke, error) {
	m, err := c.call(ctx, Message{Type: TypeList, CanvasID: canvasID})
	if err != nil {
		return nil, err
	}
	if m.Strokes == nil {
		return []state.Stroke{}, nil
	}
	return m.Strokes, nil
}

func (c *Client) Append(ctx context.Context, s state.Stroke) (string, error) {
	m, err := c.call(ctx, Message{Type: TypeAppend, Stroke: &s})
	return m.StrokeID, err
}

func (c *Client) AppendMany(ctx context.Context, strokes []state.Stroke) ([]string, error) {
	m, err := c.call(ctx, Message{Type: TypeAppendMany, Strokes: strokes})
	return m.IDs, err
}

func (c *Client) AppendPoints(ctx context.Context, strokeID string, points []state.Point, mode state.Mode) error {
	_, err := c.call(ctx, Message{Type: TypeAppendPoints, StrokeID: strokeID, Points: points, Mode: mode})
	return err
}

func (c *Client) Delete(ctx context.Context, strokeID string) error {
	_, err := c.call(ctx, Message{Type: TypeDelete, StrokeID: strokeID})
	return err
}

func (c *Client) DeleteAllByCanvas(ctx context.Context, canvasID string) (int, error) {
	m, err := c.call(ctx, Message{Type: TypeClear, CanvasID: canvasID})
	return m.Count, err
}

func (c *Client) DeleteLatestByAuthor(ctx context.Context, canvasID, authorID string) (string, bool, error) {
	m, err := c.call(ctx, Message{Type: TypeDeleteLatest, CanvasID: canvasID, UserID: authorID})
	return m.StrokeID, m.OK, err
}

// Subscribe implements store.Subscriber. Snapshots that arrive faster
// than they are read are coalesced.
func (c *Client) Subscribe(ctx context.Context, canvasID string) (<-chan []state.Stroke, error) {
	id := c.nextID.Add(1)
	ch := make(chan []state.Stroke, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	// registered before the request so the first push is not missed
	c.strokes[id] = ch
	c.mu.Unlock()

	if _, err := c.call(ctx, Message{Type: TypeSubscribe, ID: id, CanvasID: canvasID}); err != nil {
		drop(c, id, c.strokes)
		return nil, err
	}
	go c.release(ctx, id, TypeUnsubscribe, func() { drop(c, id, c.strokes) })
	return ch, nil
}

// Watch implements presence.Watcher.
func (c *Client) Watch(ctx context.Context, roomToken string) (<-chan []presence.Entry, error) {
	id := c.nextID.Add(1)
	ch := make(chan []presence.Entry, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.rooms[id] = ch
	c.mu.Unlock()

	if _, err := c.call(ctx, Message{Type: TypeWatch, ID: id, RoomToken: roomToken}); err != nil {
		drop(c, id, c.rooms)
		return nil, err
	}
	go c.release(ctx, id, TypeUnwatch, func() { drop(c, id, c.rooms) })
	return ch, nil
}

// release ends a subscription when ctx is done, telling the server on a
// best-effort basis.
func (c *Client) release(ctx context.Context, id uint64, kind string, drop func()) {
	select {
	case <-ctx.Done():
	case <-c.ctx.Done():
		return
	}
	drop()
	callCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if _, err := c.call(callCtx, Message{Type: kind, Sub: id}); err != nil && !errors.Is(err, ErrClosed) {
		glog.V(1).Infof("[net] %s %d: %v", kind, id, err)
	}
}

func drop[T any](c *Client, id uint64, subs map[uint64]chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
	}
}

func (c *Client) CreateCanvas(ctx context.Context, slug, creatorID string) (store.Canvas, error) {
	m, err := c.call(ctx, Message{Type: TypeCreateCanvas, Slug: slug, UserID: creatorID})
	return canvasOf(m), err
}

func (c *Client) GetCanvas(ctx context.Context, canvasID string) (store.Canvas, error) {
	m, err := c.call(ctx, Message{Type: TypeGetCanvas, CanvasID: canvasID})
	return canvasOf(m), err
}

func (c *Client) GetCanvasBySlug(ctx context.Context, slug string) (store.Canvas, error) {
	m, err := c.call(ctx, Message{Type: TypeGetCanvasBySlug, Slug: slug})
	return canvasOf(m), err
}

func (c *Client) UpdateCanvasMetadata(ctx context.Context, canvasID, userID string, meta store.Metadata) error {
	_, err := c.call(ctx, Message{Type: TypeUpdateMetadata, CanvasID: canvasID, UserID: userID, Meta: &meta})
	return err
}

func (c *Client) TogglePublish(ctx context.Context, canvasID, userID string, publish bool) (store.Canvas, error) {
	m, err := c.call(ctx, Message{Type: TypePublish, CanvasID: canvasID, UserID: userID, Publish: publish})
	return canvasOf(m), err
}

func (c *Client) AddContributor(ctx context.Context, canvasID, userID string) error {
	_, err := c.call(ctx, Message{Type: TypeAddContributor, CanvasID: canvasID, UserID: userID})
	return err
}

func (c *Client) ListPublished(ctx context.Context, limit int) ([]store.Canvas, error) {
	m, err := c.call(ctx, Message{Type: TypeListPublished, Limit: limit})
	return canvasesOf(m), err
}

func (c *Client) ListOwned(ctx context.Context, userID string) ([]store.Canvas, error) {
	m, err := c.call(ctx, Message{Type: TypeListOwned, UserID: userID})
	return canvasesOf(m), err
}

func (c *Client) ListCollaborations(ctx context.Context, userID string) ([]store.Canvas, error) {
	m, err := c.call(ctx, Message{Type: TypeListCollaborations, UserID: userID})
	return canvasesOf(m), err
}

func (c *Client) DeleteCanvas(ctx context.Context, canvasID, userID string) (int, error) {
	m, err := c.call(ctx, Message{Type: TypeDeleteCanvas, CanvasID: canvasID, UserID: userID})
	return m.Count, err
}

func canvasOf(m Message) store.Canvas {
	if m.Canvas == nil {
		return store.Canvas{}
	}
	return *m.Canvas
}

func canvasesOf(m Message) []store.Canvas {
	if m.Canvases == nil {
		return []store.Canvas{}
	}
	return m.Canvases
}

func (c *Client) Heartbeat(ctx context.Context, roomID, userID, sessionID string, interval time.Duration) (presence.Tokens, error) {
	m, err := c.call(ctx, Message{
		Type:       TypeHeartbeat,
		RoomID:     roomID,
		UserID:     userID,
		SessionID:  sessionID,
		IntervalMs: interval.Milliseconds(),
	})
	if err != nil || m.Tokens == nil {
		return presence.Tokens{}, err
	}
	return *m.Tokens, nil
}

func (c *Client) List(ctx context.Context, roomToken string) ([]presence.Entry, error) {
	m, err := c.call(ctx, Message{Type: TypePresenceList, RoomToken: roomToken})
	if err != nil {
		return nil, err
	}
	if m.Entries == nil {
		return []presence.Entry{}, nil
	}
	return m.Entries, nil
}

func (c *Client) UpdateUserData(ctx context.Context, roomID, userID string, data presence.Data) error {
	_, err := c.call(ctx, Message{Type: TypePresenceUpdate, RoomID: roomID, UserID: userID, Data: &data})
	return err
}

func (c *Client) Disconnect(ctx context.Context, sessionToken string) error {
	_, err := c.call(ctx, Message{Type: TypeDisconnect, SessionToken: sessionToken})
	return err
}
