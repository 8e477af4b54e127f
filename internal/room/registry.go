package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/shobu13/kindly-kappa/internal/edit"
	"github.com/shobu13/kindly-kappa/internal/protocol"
)

// Gets told when rooms open and close
type Observer interface {
	RoomOpened(code, ownerID, ownerName string, difficulty int) error
	RoomClosed(code string) error
}

// Receives a copy of every broadcast
type Mirror interface {
	Publish(ctx context.Context, code string, resp protocol.Response) error
}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

func WithMirror(m Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry owns every live room. Its lock guards the room map only; each room
// has its own lock for buffer and membership. Locks are always taken
// registry first, then room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	observer Observer
	mirror   Mirror
	now      func() time.Time
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Creates a room with the session as owner and only member
func (r *Registry) Create(s *Session, code string, difficulty int) (*Room, error) {
	r.mu.Lock()
	if existing, ok := r.rooms[code]; ok && !existing.closed.Load() {
		r.mu.Unlock()
		return nil, protocol.Errorf(protocol.RoomAlreadyExists, "The room with code %q already exists.", code)
	}
	room := newRoom(code, s, difficulty, r.now)
	r.rooms[code] = room
	total := len(r.rooms)
	r.mu.Unlock()

	glog.Infof("[registry] room %s created by %s (difficulty %d, rooms: %d)", code, s.ID, difficulty, total)

	if r.observer != nil {
		if err := r.observer.RoomOpened(code, string(s.ID), s.Username, difficulty); err != nil {
			glog.Errorf("[registry] record opening of room %s: %v", code, err)
		}
	}
	return room, nil
}

// Joins the session to a live room. Only the room's own lock is held while
// the member is added, so a busy room never stalls the others.
func (r *Registry) Join(s *Session, code string) (*Room, error) {
	room, ok := r.Get(code)
	if !ok {
		return nil, protocol.Errorf(protocol.RoomNotFound, "The room with code %q was not found.", code)
	}

	added, open := room.add(s)
	if !open {
		// the last member left while we were waiting for the room
		return nil, protocol.Errorf(protocol.RoomNotFound, "The room with code %q was not found.", code)
	}
	if added {
		glog.Infof("[registry] %s joined room %s", s.ID, code)
	}
	return room, nil
}

// Removes the session from the room. The room goes away with its last
// member; closed reports whether that happened.
func (r *Registry) Disconnect(s *Session, code string) (closed bool) {
	room, ok := r.Get(code)
	if !ok {
		return false
	}

	remaining, closedNow := room.remove(s.ID)
	if !closedNow {
		if remaining > 0 {
			glog.Infof("[registry] %s left room %s (remaining: %d)", s.ID, code, remaining)
		}
		return false
	}

	r.mu.Lock()
	// a new room may already have taken the code
	if r.rooms[code] == room {
		delete(r.rooms, code)
	}
	r.mu.Unlock()

	glog.Infof("[registry] room %s closed (empty)", code)
	if r.observer != nil {
		if err := r.observer.RoomClosed(code); err != nil {
			glog.Errorf("[registry] record closing of room %s: %v", code, err)
		}
	}
	return true
}

// Sends resp to every member of the room except the excluded sessions.
// Members that cannot take the event are logged and skipped.
func (r *Registry) Broadcast(ctx context.Context, resp protocol.Response, code string, excluding ...SessionID) {
	room, ok := r.Get(code)
	if !ok {
		glog.Warningf("[registry] broadcast %s to missing room %s", resp.Type, code)
		return
	}

	for _, m := range room.Members() {
		if excluded(m.ID, excluding) {
			continue
		}
		if err := m.Send(resp); err != nil {
			glog.Warningf("[registry] send %s to %s in room %s: %v", resp.Type, m.ID, code, err)
		}
	}

	if r.mirror != nil {
		if err := r.mirror.Publish(ctx, code, resp); err != nil {
			glog.Errorf("[registry] mirror %s for room %s: %v", resp.Type, code, err)
		}
	}
}

func excluded(id SessionID, excluding []SessionID) bool {
	for _, e := range excluding {
		if e == id {
			return true
		}
	}
	return false
}

// Applies a batch to the room's buffer and returns it as applied. A missing
// room is ignored.
func (r *Registry) UpdateBuffer(code string, ops []edit.Replacement) ([]edit.Replacement, error) {
	room, ok := r.Get(code)
	if !ok {
		return nil, nil
	}
	return room.Replace(ops)
}

func (r *Registry) Get(code string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	return room, ok
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) SessionCount() int {
	count := 0
	for _, room := range r.snapshot() {
		count += len(room.Members())
	}
	return count
}

// Overview of a live room
type Summary struct {
	Code       string    `json:"code"`
	OwnerID    string    `json:"owner_id"`
	Difficulty int       `json:"difficulty"`
	Members    int       `json:"members"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summaries of every live room, oldest first
func (r *Registry) Rooms() []Summary {
	rooms := r.snapshot()
	summaries := make([]Summary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, Summary{
			Code:       room.Code,
			OwnerID:    string(room.OwnerID),
			Difficulty: room.Difficulty,
			Members:    len(room.Members()),
			CreatedAt:  room.CreatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].Code < summaries[j].Code
		}
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

func (r *Registry) snapshot() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
