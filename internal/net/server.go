package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"CoupleCanvas/internal/presence"
	"CoupleCanvas/internal/state"
	"CoupleCanvas/internal/store"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const (
	WebSocketPath = "/ws"

	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = pongTimeout * 9 / 10
	sendBuffer   = 64
	maxMessage   = 8 << 20
)

// Server exposes a store and a presence tracker to remote clients, one
// WebSocket per client.
type Server struct {
	store    store.Store
	presence *presence.Tracker
	upgrader websocket.Upgrader

	conns map[*peer]struct{}
	mu    sync.RWMutex
}

func NewServer(st store.Store, pr *presence.Tracker) *Server {
	return &Server{
		store:    st,
		presence: pr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// clients are desktop apps on the LAN, not browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*peer]struct{}),
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(WebSocketPath, s)
	return mux
}

// ListenAndServe serves on addr until ctx is done. It returns the bound
// address through ready once the listener is open.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	glog.Infof("[net] canvas server listening on %s", listener.Addr())
	if ready != nil {
		ready(listener.Addr())
	}

	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.closeAll()
	}()
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Peers returns the number of connected clients.
func (s *Server) Peers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) add(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[p] = struct{}{}
	glog.Infof("[net] client connected from %s", p.addr)
}

func (s *Server) remove(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, p)
	glog.Infof("[net] client %s disconnected", p.addr)
}

func (s *Server) closeAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for p := range s.conns {
		p.cancel()
	}
}

// peer is one connected client.
type peer struct {
	ws     *websocket.Conn
	addr   string
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	// cancel funcs of subscriptions and watches by request id
	subs map[uint64]context.CancelFunc
	mu   sync.Mutex
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[net] upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		ws:     ws,
		addr:   r.RemoteAddr,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[uint64]context.CancelFunc),
	}
	s.add(p)
	defer s.remove(p)
	defer cancel()
	defer ws.Close()

	go p.writeLoop()
	s.readLoop(p)
}

func (p *peer) writeLoop() {
	defer p.cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			p.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			p.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b := <-p.send:
			p.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				glog.Infof("[net] write to %s: %v", p.addr, err)
				return
			}
		case <-ticker.C:
			p.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues m for the client, waiting while the buffer is full.
func (p *peer) deliver(m Message) bool {
	b, err := m.Encode()
	if err != nil {
		glog.Errorf("[net] encode %s: %v", m.Type, err)
		return false
	}
	select {
	case p.send <- b:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (s *Server) readLoop(p *peer) {
	p.ws.SetReadLimit(maxMessage)
	p.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		messageType, b, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Infof("[net] read from %s: %v", p.addr, err)
			}
			return
		}
		p.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		if messageType != websocket.TextMessage {
			continue
		}
		req, err := Decode(b)
		if err != nil {
			glog.Warningf("[net] bad message from %s: %v", p.addr, err)
			continue
		}
		glog.V(2).Infof("[net] %s <- %s #%d", p.addr, req.Type, req.ID)
		// requests are handled in arrival order so one client's writes
		// apply in the order it issued them
		resp, err := s.handle(p, req)
		if err != nil {
			resp = errorMessage(req.ID, err)
		} else {
			resp.Type = TypeResult
			resp.ID = req.ID
		}
		if !p.deliver(resp) {
			return
		}
	}
}

func (s *Server) handle(p *peer, req Message) (Message, error) {
	ctx := p.ctx
	switch req.Type {
	case TypeList:
		strokes, err := s.store.ListByCanvas(ctx, req.CanvasID)
		return Message{Strokes: strokes}, err
	case TypeAppend:
		if req.Stroke == nil {
			return Message{}, fmt.Errorf("append: missing stroke: %w", store.ErrInvalidStroke)
		}
		id, err := s.store.Append(ctx, *req.Stroke)
		return Message{StrokeID: id}, err
	case TypeAppendMany:
		ids, err := s.store.AppendMany(ctx, req.Strokes)
		return Message{IDs: ids}, err
	case TypeAppendPoints:
		return Message{}, s.store.AppendPoints(ctx, req.StrokeID, req.Points, req.Mode)
	case TypeDelete:
		return Message{}, s.store.Delete(ctx, req.StrokeID)
	case TypeClear:
		n, err := s.store.DeleteAllByCanvas(ctx, req.CanvasID)
		return Message{Count: n}, err
	case TypeDeleteLatest:
		id, ok, err := s.store.DeleteLatestByAuthor(ctx, req.CanvasID, req.UserID)
		return Message{StrokeID: id, OK: ok}, err
	case TypeSubscribe:
		return Message{}, s.subscribe(p, req)
	case TypeUnsubscribe, TypeUnwatch:
		p.unsubscribe(req.Sub)
		return Message{}, nil

	case TypeCreateCanvas:
		c, err := s.store.CreateCanvas(ctx, req.Slug, req.UserID)
		return Message{Canvas: &c}, err
	case TypeGetCanvas:
		c, err := s.store.GetCanvas(ctx, req.CanvasID)
		return Message{Canvas: &c}, err
	case TypeGetCanvasBySlug:
		c, err := s.store.GetCanvasBySlug(ctx, req.Slug)
		return Message{Canvas: &c}, err
	case TypeUpdateMetadata:
		var meta store.Metadata
		if req.Meta != nil {
			meta = *req.Meta
		}
		return Message{}, s.store.UpdateCanvasMetadata(ctx, req.CanvasID, req.UserID, meta)
	case TypePublish:
		c, err := s.store.TogglePublish(ctx, req.CanvasID, req.UserID, req.Publish)
		return Message{Canvas: &c}, err
	case TypeAddContributor:
		return Message{}, s.store.AddContributor(ctx, req.CanvasID, req.UserID)
	case TypeListPublished:
		cs, err := s.store.ListPublished(ctx, req.Limit)
		return Message{Canvases: cs}, err
	case TypeListOwned:
		cs, err := s.store.ListOwned(ctx, req.UserID)
		return Message{Canvases: cs}, err
	case TypeListCollaborations:
		cs, err := s.store.ListCollaborations(ctx, req.UserID)
		return Message{Canvases: cs}, err
	case TypeDeleteCanvas:
		n, err := s.store.DeleteCanvas(ctx, req.CanvasID, req.UserID)
		return Message{Count: n}, err

	case TypeHeartbeat:
		interval := time.Duration(req.IntervalMs) * time.Millisecond
		tokens, err := s.presence.Heartbeat(ctx, req.RoomID, req.UserID, req.SessionID, interval)
		return Message{Tokens: &tokens}, err
	case TypePresenceList:
		entries, err := s.presence.List(ctx, req.RoomToken)
		return Message{Entries: entries}, err
	case TypePresenceUpdate:
		var data presence.Data
		if req.Data != nil {
			data = *req.Data
		}
		return Message{}, s.presence.UpdateUserData(ctx, req.RoomID, req.UserID, data)
	case TypeDisconnect:
		return Message{}, s.presence.Disconnect(ctx, req.SessionToken)
	case TypeWatch:
		return Message{}, s.watch(p, req)
	}
	return Message{}, fmt.Errorf("unknown request type %q", req.Type)
}

func (p *peer) track(id uint64) (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[id]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.subs[id] = cancel
	return ctx, true
}

func (p *peer) unsubscribe(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.subs[id]; ok {
		cancel()
		delete(p.subs, id)
	}
}

// subscribe forwards every snapshot of the canvas until the client
// unsubscribes or disconnects.
func (s *Server) subscribe(p *peer, req Message) error {
	ctx, ok := p.track(req.ID)
	if !ok {
		return fmt.Errorf("subscription %d already exists", req.ID)
	}
	updates, err := s.store.Subscribe(ctx, req.CanvasID)
	if err != nil {
		p.unsubscribe(req.ID)
		return err
	}
	go forward(p, updates, func(strokes []state.Stroke) Message {
		return Message{Type: TypeStrokes, Sub: req.ID, CanvasID: req.CanvasID, Strokes: strokes}
	})
	return nil
}

func (s *Server) watch(p *peer, req Message) error {
	ctx, ok := p.track(req.ID)
	if !ok {
		return fmt.Errorf("watch %d already exists", req.ID)
	}
	updates, err := s.presence.Watch(ctx, req.RoomToken)
	if err != nil {
		p.unsubscribe(req.ID)
		return err
	}
	go forward(p, updates, func(entries []presence.Entry) Message {
		return Message{Type: TypePresence, Sub: req.ID, Entries: entries}
	})
	return nil
}

func forward[T any](p *peer, updates <-chan T, wrap func(T) Message) {
	for v := range updates {
		if !p.deliver(wrap(v)) {
			return
		}
	}
}
