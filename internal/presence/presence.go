// Package presence tracks who is looking at a canvas and where their
// cursor is. Clients heartbeat; a user is online while any of their
// sessions heartbeated recently.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"CoupleCanvas/internal/state"
	"CoupleCanvas/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
)

var ErrInvalidToken = errors.New("presence: invalid token")

const (
	DefaultInterval = 5 * time.Second
	// a session counts as online for this many intervals after a heartbeat
	onlineFactor = 2.5
	// users silent for this many intervals are forgotten
	sweepFactor = 10
)

// Data is what a user shares with the room.
type Data struct {
	Name   string        `json:"name,omitempty"`
	Color  string        `json:"color,omitempty"`
	Cursor *state.Cursor `json:"cursor,omitempty"`
}

// Entry is one user in a room listing.
type Entry struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	Data     Data   `json:"data"`
	LastSeen int64  `json:"lastSeen"` // unix milliseconds
}

// Tokens are returned by Heartbeat. The room token reads the room, the
// session token ends the session.
type Tokens struct {
	RoomToken    string `json:"roomToken"`
	SessionToken string `json:"sessionToken"`
}

// Service is the presence API a client talks to.
type Service interface {
	Heartbeat(ctx context.Context, roomID, userID, sessionID string, interval time.Duration) (Tokens, error)
	List(ctx context.Context, roomToken string) ([]Entry, error)
	UpdateUserData(ctx context.Context, roomID, userID string, data Data) error
	Disconnect(ctx context.Context, sessionToken string) error
}

// Watcher pushes the room listing whenever it changes.
type Watcher interface {
	Watch(ctx context.Context, roomToken string) (<-chan []Entry, error)
}

type roomClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

type sessionClaims struct {
	Room    string `json:"room"`
	User    string `json:"user"`
	Session string `json:"session"`
	jwt.RegisteredClaims
}

type session struct {
	lastSeen time.Time
	interval time.Duration
}

type user struct {
	data     Data
	sessions map[string]*session
	lastSeen time.Time
	interval time.Duration
}

type room struct {
	users map[string]*user
}

// Tracker is the in-process presence service.
type Tracker struct {
	secret []byte
	rooms  map[string]*room
	hub    *store.Hub[[]Entry]
	now    func() time.Time

	mu sync.Mutex
}

func NewTracker(secret string) *Tracker {
	if secret == "" {
		secret = "couplecanvas"
	}
	return &Tracker{
		secret: []byte(secret),
		rooms:  make(map[string]*room),
		hub:    NewHub(),
		now:    time.Now,
	}
}

// NewHub returns a hub for room listings.
func NewHub() *store.Hub[[]Entry] {
	return store.NewHub[[]Entry]()
}

func (t *Tracker) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *Tracker) keyFunc(token *jwt.Token) (interface{}, error) {
	return t.secret, nil
}

// RoomOf returns the room a room token grants access to.
func (t *Tracker) RoomOf(roomToken string) (string, error) {
	var claims roomClaims
	_, err := jwt.ParseWithClaims(roomToken, &claims, t.keyFunc, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || claims.Room == "" {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Room, nil
}

func (t *Tracker) roomLocked(roomID string) *room {
	r, ok := t.rooms[roomID]
	if !ok {
		r = &room{users: make(map[string]*user)}
		t.rooms[roomID] = r
	}
	return r
}

func (r *room) userLocked(userID string) *user {
	u, ok := r.users[userID]
	if !ok {
		u = &user{sessions: make(map[string]*session), interval: DefaultInterval}
		r.users[userID] = u
	}
	return u
}

// Heartbeat marks the session alive for the next few intervals.
func (t *Tracker) Heartbeat(ctx context.Context, roomID, userID, sessionID string, interval time.Duration) (Tokens, error) {
	if roomID == "" || userID == "" || sessionID == "" {
		return Tokens{}, fmt.Errorf("heartbeat: room, user and session are required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	issued := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(t.now())}
	roomToken, err := t.sign(roomClaims{Room: roomID, RegisteredClaims: issued})
	if err != nil {
		return Tokens{}, err
	}
	sessionToken, err := t.sign(sessionClaims{Room: roomID, User: userID, Session: sessionID, RegisteredClaims: issued})
	if err != nil {
		return Tokens{}, err
	}

	t.mu.Lock()
	now := t.now()
	u := t.roomLocked(roomID).userLocked(userID)
	if _, ok := u.sessions[sessionID]; !ok {
		glog.V(1).Infof("[presence] %s joined %s", userID, roomID)
	}
	u.sessions[sessionID] = &session{lastSeen: now, interval: interval}
	u.lastSeen = now
	u.interval = interval
	t.publishLocked(roomID)
	t.mu.Unlock()

	return Tokens{RoomToken: roomToken, SessionToken: sessionToken}, nil
}

// List returns everyone in the room, online or not, ordered by user id.
func (t *Tracker) List(ctx context.Context, roomToken string) ([]Entry, error) {
	roomID, err := t.RoomOf(roomToken)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listLocked(roomID), nil
}

func (t *Tracker) listLocked(roomID string) []Entry {
	r, ok := t.rooms[roomID]
	if !ok {
		return []Entry{}
	}
	now := t.now()
	out := make([]Entry, 0, len(r.users))
	for id, u := range r.users {
		out = append(out, Entry{
			UserID:   id,
			Online:   u.online(now),
			Data:     u.data,
			LastSeen: u.lastSeen.UnixMilli(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (u *user) online(now time.Time) bool {
	for _, s := range u.sessions {
		if now.Sub(s.lastSeen) <= time.Duration(float64(s.interval)*onlineFactor) {
			return true
		}
	}
	return false
}

// UpdateUserData replaces what the user shares with the room.
func (t *Tracker) UpdateUserData(ctx context.Context, roomID, userID string, data Data) error {
	if roomID == "" || userID == "" {
		return fmt.Errorf("update user data: room and user are required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.roomLocked(roomID).userLocked(userID)
	u.data = data
	if u.lastSeen.IsZero() {
		u.lastSeen = t.now()
	}
	t.publishLocked(roomID)
	return nil
}

// Disconnect ends one session. The user stays listed, offline once no
// other session is alive.
func (t *Tracker) Disconnect(ctx context.Context, sessionToken string) error {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(sessionToken, &claims, t.keyFunc, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || claims.Session == "" {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[claims.Room]
	if !ok {
		return nil
	}
	u, ok := r.users[claims.User]
	if !ok {
		return nil
	}
	delete(u.sessions, claims.Session)
	glog.V(1).Infof("[presence] %s left %s", claims.User, claims.Room)
	t.publishLocked(claims.Room)
	return nil
}

// Sweep forgets sessions and users that have been silent for a long time
// and republishes every room, since online flags change with time alone.
// It returns the number of users removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for roomID, r := range t.rooms {
		for userID, u := range r.users {
			for id, s := range u.sessions {
				if now.Sub(s.lastSeen) > s.interval*sweepFactor {
					delete(u.sessions, id)
				}
			}
			if len(u.sessions) == 0 && now.Sub(u.lastSeen) > u.interval*sweepFactor {
				delete(r.users, userID)
				removed++
			}
		}
		if len(r.users) == 0 {
			delete(t.rooms, roomID)
			t.hub.Publish(roomID, []Entry{})
			continue
		}
		t.publishLocked(roomID)
	}
	if removed > 0 {
		glog.V(1).Infof("[presence] swept %d users", removed)
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Watch implements Watcher.
func (t *Tracker) Watch(ctx context.Context, roomToken string) (<-chan []Entry, error) {
	roomID, err := t.RoomOf(roomToken)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hub.Subscribe(ctx, roomID, t.listLocked(roomID)), nil
}

func (t *Tracker) publishLocked(roomID string) {
	t.hub.Publish(roomID, t.listLocked(roomID))
}

// Others filters a listing down to online users other than self.
func Others(entries []Entry, self string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Online && e.UserID != self {
			out = append(out, e)
		}
	}
	return out
}
