package room

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shobu13/kindly-kappa/internal/bugs"
	"github.com/shobu13/kindly-kappa/internal/edit"
	"github.com/shobu13/kindly-kappa/internal/protocol"
)

// A collaborative editing session around one shared buffer
type Room struct {
	Code       string
	OwnerID    SessionID
	Difficulty int
	CreatedAt  time.Time

	mu      sync.Mutex
	members []*Session
	buffer  string
	cursors map[SessionID]protocol.Position
	now     func() time.Time

	// set once the last member left; a closed room never takes members again
	closed atomic.Bool
}

func newRoom(code string, owner *Session, difficulty int, now func() time.Time) *Room {
	return &Room{
		Code:       code,
		OwnerID:    owner.ID,
		Difficulty: difficulty,
		CreatedAt:  now(),
		members:    []*Session{owner},
		cursors:    make(map[SessionID]protocol.Position),
		now:        now,
	}
}

// Adds a member. added is false if it was already there; open is false if
// the room closed before the session got in.
func (r *Room) add(s *Session) (added, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return false, false
	}
	for _, m := range r.members {
		if m.ID == s.ID {
			return false, true
		}
	}
	r.members = append(r.members, s)
	return true, true
}

// Removes a member and returns how many are left. The room closes with its
// last member; closedNow is true only for the call that closed it.
func (r *Room) remove(id SessionID) (remaining int, closedNow bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.members {
		if m.ID == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	delete(r.cursors, id)
	if len(r.members) == 0 && !r.closed.Load() {
		r.closed.Store(true)
		return 0, true
	}
	return len(r.members), false
}

// Returns a copy of the member list in join order
func (r *Room) Members() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]*Session, len(r.members))
	copy(members, r.members)
	return members
}

func (r *Room) Buffer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffer
}

// Applies a client batch, restoring dropped de-indent whitespace first.
// Returns the batch as applied.
func (r *Room) Replace(ops []edit.Replacement) ([]edit.Replacement, error) {
	ops = edit.FixDedent(ops)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.apply(ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (r *Room) apply(ops []edit.Replacement) error {
	buffer, err := edit.Apply(r.buffer, ops)
	if err != nil {
		return fmt.Errorf("room %s: %w", r.Code, err)
	}
	r.buffer = buffer
	return nil
}

// Overwrites the whole buffer and returns the resulting sync payload
func (r *Room) Overwrite(code string) protocol.SyncData {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = code
	return r.syncLocked("")
}

// Result of a bug injection round together with the state around it
type Round struct {
	bugs.Result
	Before string
	Sync   protocol.SyncData
}

// Runs one bug injection round as a single critical section: the buffer
// cannot change between the snapshot and the apply. Blank buffers are left
// alone.
func (r *Room) InjectBugs(engine *bugs.Engine) (Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	round := Round{Before: r.buffer}
	if strings.TrimSpace(r.buffer) == "" {
		round.Mutated = r.buffer
		round.Sync = r.syncLocked("")
		return round, nil
	}

	round.Result = engine.Inject(r.buffer, r.Difficulty)
	if err := r.apply(round.Ops); err != nil {
		return Round{}, err
	}
	round.Sync = r.syncLocked("")
	return round, nil
}

func (r *Room) MoveCursor(id SessionID, pos protocol.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[id] = pos
}

func (r *Room) Cursors() map[SessionID]protocol.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	cursors := make(map[SessionID]protocol.Position, len(r.cursors))
	for id, pos := range r.cursors {
		cursors[id] = pos
	}
	return cursors
}

// Full state snapshot. The viewer is left out of the collaborators; an empty
// viewer lists everyone.
func (r *Room) Sync(viewer SessionID) protocol.SyncData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncLocked(viewer)
}

func (r *Room) syncLocked(viewer SessionID) protocol.SyncData {
	collaborators := make([]protocol.Collaborator, 0, len(r.members))
	for _, m := range r.members {
		if m.ID == viewer {
			continue
		}
		collaborators = append(collaborators, m.Collaborator())
	}

	return protocol.SyncData{
		Code:          r.buffer,
		Collaborators: collaborators,
		Time:          elapsed(r.now().Sub(r.CreatedAt)),
		OwnerID:       string(r.OwnerID),
		Difficulty:    r.Difficulty,
	}
}

func elapsed(d time.Duration) protocol.Time {
	if d < 0 {
		d = 0
	}
	return protocol.Time{
		Min: int(d / time.Minute),
		Sec: int(d % time.Minute / time.Second),
		Mil: int(d % time.Second / time.Millisecond),
	}
}
