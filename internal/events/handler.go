package events

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"github.com/shobu13/kindly-kappa/internal/bugs"
	"github.com/shobu13/kindly-kappa/internal/db"
	"github.com/shobu13/kindly-kappa/internal/protocol"
	"github.com/shobu13/kindly-kappa/internal/room"
)

// Returned by Handle once the session has disconnected
var ErrSessionClosed = errors.New("session closed")

type Evaluator interface {
	Evaluate(ctx context.Context, code string) (string, error)
}

// Keeps a record of bug rounds and evaluations
type Journal interface {
	SaveRound(r db.BugRound) error
	SaveEvaluation(e db.Evaluation) (*db.Evaluation, error)
}

type State int

const (
	Unjoined State = iota
	Joined
	Left
)

func (s State) String() string {
	switch s {
	case Unjoined:
		return "unjoined"
	case Joined:
		return "joined"
	case Left:
		return "left"
	}
	return "unknown"
}

// Service holds what every session handler shares
type Service struct {
	registry  *room.Registry
	engine    *bugs.Engine
	evaluator Evaluator
	journal   Journal
	now       func() time.Time
}

type Option func(*Service)

func WithEvaluator(e Evaluator) Option {
	return func(s *Service) { s.evaluator = e }
}

func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

func NewService(registry *room.Registry, engine *bugs.Engine, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		engine:   engine,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *room.Registry {
	return s.registry
}

// Handler drives one session through its lifetime. It is used from the
// session's read loop only and is not safe for concurrent use.
type Handler struct {
	svc     *Service
	session *room.Session
	state   State
	code    string
	room    *room.Room
}

func (s *Service) NewHandler(session *room.Session) *Handler {
	return &Handler{svc: s, session: session}
}

func (h *Handler) State() State {
	return h.state
}

func (h *Handler) RoomCode() string {
	return h.code
}

// Handle processes one inbound frame. A non-nil error ends the connection:
// a *protocol.Error for a rejected first event (its code is the close code),
// ErrSessionClosed after a disconnect. Later protocol errors are reported to
// the sender and do not end the connection.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	if h.state == Left {
		return ErrSessionClosed
	}

	req, err := protocol.Decode(raw)
	if err != nil {
		return h.fail(err)
	}

	if h.state == Unjoined {
		if req.Type != protocol.EventConnect {
			return h.fail(protocol.Errorf(protocol.InvalidRequestData, "The first event must be of type 'connect'."))
		}
		if err := h.connect(ctx, req.Data.(protocol.ConnectData)); err != nil {
			return h.fail(err)
		}
		return nil
	}

	glog.V(2).Infof("[events] %s %s in room %s", h.session.ID, req.Type, h.code)

	switch req.Type {
	case protocol.EventConnect:
		return h.fail(protocol.Errorf(protocol.InvalidRequestData, "Already connected to room %q.", h.code))
	case protocol.EventDisconnect:
		h.Leave(ctx)
		return ErrSessionClosed
	case protocol.EventSync:
		h.sync(ctx, req.Data.(protocol.SyncData))
	case protocol.EventMove:
		h.move(ctx, req.Data.(protocol.MoveData))
	case protocol.EventReplace:
		return h.fail(h.replace(ctx, req.Data.(protocol.ReplaceData)))
	case protocol.EventBugs:
		return h.fail(h.injectBugs(ctx))
	case protocol.EventEvaluate:
		h.evaluate(ctx)
	default:
		return h.fail(protocol.Errorf(protocol.InvalidRequestData, "This has not been implemented yet."))
	}
	return nil
}

// Reports err to the sender. Before the session joined a room every error is
// fatal and returned; afterwards it is swallowed.
func (h *Handler) fail(err error) error {
	if err == nil {
		return nil
	}

	var perr *protocol.Error
	if !errors.As(err, &perr) {
		glog.Errorf("[events] %s in room %s: %v", h.session.ID, h.code, err)
		perr = protocol.Errorf(protocol.InvalidRequestData, "Invalid request data.")
	}
	h.send(perr.Response())

	if h.state == Unjoined {
		return perr
	}
	return nil
}

func (h *Handler) send(resp protocol.Response) {
	if err := h.session.Send(resp); err != nil {
		glog.Warningf("[events] send %s to %s: %v", resp.Type, h.session.ID, err)
	}
}

func (h *Handler) broadcast(ctx context.Context, resp protocol.Response, excluding ...room.SessionID) {
	h.svc.registry.Broadcast(ctx, resp, h.code, excluding...)
}

func (h *Handler) connect(ctx context.Context, data protocol.ConnectData) error {
	data.UserID = string(h.session.ID)
	h.session.Username = data.Username

	var r *room.Room
	var err error
	switch data.ConnectionType {
	case protocol.ConnectionCreate:
		if data.Difficulty == nil {
			return protocol.Errorf(protocol.DataNotFound, "Difficulty not found.")
		}
		if d := *data.Difficulty; d < 1 || d > bugs.MaxDifficulty {
			return protocol.Errorf(protocol.InvalidRequestData, "Difficulty must be between 1 and %d.", bugs.MaxDifficulty)
		}
		r, err = h.svc.registry.Create(h.session, data.RoomCode, *data.Difficulty)
	case protocol.ConnectionJoin:
		r, err = h.svc.registry.Join(h.session, data.RoomCode)
	}
	if err != nil {
		return err
	}

	h.room = r
	h.code = r.Code
	h.state = Joined

	h.send(protocol.NewResponse(protocol.EventSync, r.Sync(h.session.ID)))

	connected := protocol.NewResponse(protocol.EventConnect, data)
	if data.ConnectionType == protocol.ConnectionCreate {
		h.send(connected)
	} else {
		h.broadcast(ctx, connected, h.session.ID)
	}
	return nil
}

// Leave runs the disconnect path once. The transport defers it so a dropped
// connection leaves the room like an explicit disconnect.
func (h *Handler) Leave(ctx context.Context) {
	if h.state != Joined {
		h.state = Left
		return
	}
	h.state = Left

	resp := protocol.NewResponse(protocol.EventDisconnect, protocol.DisconnectData{
		User: []protocol.Collaborator{h.session.Collaborator()},
	})
	h.broadcast(ctx, resp, h.session.ID)
	h.svc.registry.Disconnect(h.session, h.code)
}

// Only the owner may overwrite the buffer; anyone else is ignored
func (h *Handler) sync(ctx context.Context, data protocol.SyncData) {
	if h.session.ID != h.room.OwnerID {
		glog.V(2).Infof("[events] dropped sync from non-owner %s in room %s", h.session.ID, h.code)
		return
	}

	state := h.room.Overwrite(data.Code)
	h.broadcast(ctx, protocol.NewResponse(protocol.EventSync, state))
}

func (h *Handler) move(ctx context.Context, data protocol.MoveData) {
	data.UserID = string(h.session.ID)
	h.room.MoveCursor(h.session.ID, data.Position)
	h.broadcast(ctx, protocol.NewResponse(protocol.EventMove, data), h.session.ID)
}

func (h *Handler) replace(ctx context.Context, data protocol.ReplaceData) error {
	applied, err := h.svc.registry.UpdateBuffer(h.code, data.Code)
	if err != nil {
		glog.Warningf("[events] rejected replace from %s in room %s: %v", h.session.ID, h.code, err)
		return protocol.Errorf(protocol.InvalidRequestData, "Replacement out of range.")
	}

	h.broadcast(ctx, protocol.NewResponse(protocol.EventReplace, protocol.ReplaceData{Code: applied}), h.session.ID)
	return nil
}

func (h *Handler) injectBugs(ctx context.Context) error {
	round, err := h.room.InjectBugs(h.svc.engine)
	if err != nil {
		return err
	}

	h.broadcast(ctx, protocol.NewResponse(protocol.EventSync, round.Sync))

	if len(round.Strategies) == 0 {
		return nil
	}
	glog.Infof("[events] room %s bug round: %v (%d ops)", h.code, round.Strategies, len(round.Ops))

	if h.svc.journal != nil {
		record := db.BugRound{
			ID:          ulid.Make().String(),
			RoomCode:    h.code,
			RequestedBy: string(h.session.ID),
			Difficulty:  h.room.Difficulty,
			Strategies:  round.Strategies,
			OpCount:     len(round.Ops),
			Before:      round.Before,
			After:       round.Mutated,
			CreatedAt:   h.svc.now(),
		}
		if err := h.svc.journal.SaveRound(record); err != nil {
			glog.Errorf("[events] journal bug round for room %s: %v", h.code, err)
		}
	}
	return nil
}

// Runs the buffer in the sandbox outside the room lock and shares the
// result with everyone in the room
func (h *Handler) evaluate(ctx context.Context) {
	code := h.room.Buffer()

	var result string
	var err error = protocol.ErrEvaluationFailed
	if h.svc.evaluator != nil {
		result, err = h.svc.evaluator.Evaluate(ctx, code)
	}

	record := db.Evaluation{
		RoomCode:    h.code,
		RequestedBy: string(h.session.ID),
		Code:        code,
		Result:      result,
		CreatedAt:   h.svc.now(),
	}

	if err != nil {
		glog.Warningf("[events] evaluation in room %s failed: %v", h.code, err)
		record.Error = err.Error()
		h.broadcast(ctx, protocol.Errorf(protocol.EvaluationFailed, "Evaluation failed.").Response())
	} else {
		h.broadcast(ctx, protocol.NewResponse(protocol.EventEvaluate, protocol.EvaluateData{Result: result}))
	}

	if h.svc.journal != nil {
		if _, err := h.svc.journal.SaveEvaluation(record); err != nil {
			glog.Errorf("[events] journal evaluation for room %s: %v", h.code, err)
		}
	}
}
