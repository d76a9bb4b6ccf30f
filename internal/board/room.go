package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CoupleCanvas/internal/presence"
	"CoupleCanvas/internal/state"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

type RoomOptions struct {
	RoomID string
	UserID string
	// SessionID identifies this window. A random id is used when empty.
	SessionID string
	Data      presence.Data
	Interval  time.Duration
	Throttle  time.Duration
	// OnChange receives every room listing. It runs on the room's own
	// goroutine.
	OnChange func([]presence.Entry)
}

// Room keeps a user present in a presence room: it heartbeats, shares the
// cursor at a throttled rate and follows the listing.
type Room struct {
	svc    presence.Service
	opts   RoomOptions
	tokens presence.Tokens
	cursor *presence.Throttle[*state.Cursor]
	// kick wakes share; it holds at most one signal
	kick chan struct{}

	data    presence.Data
	entries []presence.Entry
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// JoinRoom announces the user and starts following the room. Without a
// watcher the listing is polled on every heartbeat.
func JoinRoom(ctx context.Context, svc presence.Service, watcher presence.Watcher, opts RoomOptions) (*Room, error) {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Interval <= 0 {
		opts.Interval = presence.DefaultInterval
	}
	tokens, err := svc.Heartbeat(ctx, opts.RoomID, opts.UserID, opts.SessionID, opts.Interval)
	if err != nil {
		return nil, fmt.Errorf("join room %s: %w", opts.RoomID, err)
	}
	if err := svc.UpdateUserData(ctx, opts.RoomID, opts.UserID, opts.Data); err != nil {
		return nil, fmt.Errorf("join room %s: %w", opts.RoomID, err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		svc:    svc,
		opts:   opts,
		tokens: tokens,
		data:   opts.Data,
		kick:   make(chan struct{}, 1),
		ctx:    rctx,
		cancel: cancel,
	}
	r.cursor = presence.NewThrottle(opts.Throttle, r.sendCursor)

	if watcher != nil {
		updates, err := watcher.Watch(rctx, tokens.RoomToken)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("watch room %s: %w", opts.RoomID, err)
		}
		r.wg.Add(1)
		go r.follow(updates)
	}
	r.wg.Add(2)
	go r.heartbeat(watcher == nil)
	go r.share()
	glog.Infof("[presence] joined %s as %s", opts.RoomID, opts.UserID)
	return r, nil
}

func (r *Room) follow(updates <-chan []presence.Entry) {
	defer r.wg.Done()
	for entries := range updates {
		r.publish(entries)
	}
}

func (r *Room) publish(entries []presence.Entry) {
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	if r.opts.OnChange != nil {
		r.opts.OnChange(entries)
	}
}

func (r *Room) heartbeat(poll bool) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
		_, err := r.svc.Heartbeat(r.ctx, r.opts.RoomID, r.opts.UserID, r.opts.SessionID, r.opts.Interval)
		if err != nil {
			glog.Warningf("[presence] heartbeat for %s: %v", r.opts.RoomID, err)
			continue
		}
		if poll {
			entries, err := r.svc.List(r.ctx, r.tokens.RoomToken)
			if err != nil {
				glog.Warningf("[presence] list %s: %v", r.opts.RoomID, err)
				continue
			}
			r.publish(entries)
		}
	}
}

// MoveCursor shares a cursor position in world space.
func (r *Room) MoveCursor(x, y float64) {
	r.cursor.Update(&state.Cursor{X: x, Y: y})
}

// HideCursor stops sharing the cursor, as when the pointer leaves the
// canvas.
func (r *Room) HideCursor() {
	r.cursor.Update(nil)
}

// sendCursor records the cursor and wakes share. It never waits on the
// service.
func (r *Room) sendCursor(c *state.Cursor) {
	r.mu.Lock()
	r.data.Cursor = c
	r.mu.Unlock()
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// share writes the latest user data whenever it is kicked. Positions that
// change while a write is in flight collapse into the next write.
func (r *Room) share() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.kick:
		}
		r.mu.Lock()
		data := r.data
		r.mu.Unlock()
		if err := r.svc.UpdateUserData(r.ctx, r.opts.RoomID, r.opts.UserID, data); err != nil && r.ctx.Err() == nil {
			glog.Warningf("[presence] cursor update: %v", err)
		}
	}
}

// Entries returns the latest listing.
func (r *Room) Entries() []presence.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries
}

// CoViewers returns the other users currently online.
func (r *Room) CoViewers() []presence.Entry {
	return presence.Others(r.Entries(), r.opts.UserID)
}

// Leave ends the session in the room.
func (r *Room) Leave(ctx context.Context) error {
	r.cursor.Stop()
	r.cancel()
	r.wg.Wait()
	if err := r.svc.Disconnect(ctx, r.tokens.SessionToken); err != nil {
		return fmt.Errorf("leave room %s: %w", r.opts.RoomID, err)
	}
	glog.Infof("[presence] left %s", r.opts.RoomID)
	return nil
}
