package protocol

import (
	"github.com/shobu13/kindly-kappa/internal/edit"
)

// Represents the kind of a websocket event
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventSync       EventType = "sync"
	EventMove       EventType = "move"
	EventReplace    EventType = "replace"
	EventBugs       EventType = "bugs"
	EventEvaluate   EventType = "evaluate"
	EventError      EventType = "error"
)

func (t EventType) Known() bool {
	switch t {
	case EventConnect, EventDisconnect, EventSync, EventMove, EventReplace, EventBugs, EventEvaluate, EventError:
		return true
	}
	return false
}

// Status codes carried by responses. They double as websocket close codes.
type StatusCode int

const (
	Success            StatusCode = 4000
	RoomNotFound       StatusCode = 4001
	InvalidRequestData StatusCode = 4002
	DataNotFound       StatusCode = 4003
	RoomAlreadyExists  StatusCode = 4004
	EvaluationFailed   StatusCode = 4005
)

// Connection intent of a connect event
type ConnectionType string

const (
	ConnectionCreate ConnectionType = "create"
	ConnectionJoin   ConnectionType = "join"
)

// An inbound event with its decoded payload
type Request struct {
	Type EventType
	Data any
}

// An outbound event
type Response struct {
	Type       EventType  `json:"type"`
	Data       any        `json:"data"`
	StatusCode StatusCode `json:"status_code"`
}

func NewResponse(t EventType, data any) Response {
	return Response{Type: t, Data: data, StatusCode: Success}
}

// Cursor position as [line, column]
type Position [2]int

type Collaborator struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Elapsed room time
type Time struct {
	Min int `json:"min"`
	Sec int `json:"sec"`
	Mil int `json:"mil"`
}

type ConnectData struct {
	ConnectionType ConnectionType `json:"connection_type"`
	Difficulty     *int           `json:"difficulty,omitempty"`
	RoomCode       string         `json:"room_code"`
	Username       string         `json:"username"`
	UserID         string         `json:"user_id,omitempty"`
}

type DisconnectData struct {
	Username string         `json:"username,omitempty"`
	User     []Collaborator `json:"user,omitempty"`
}

type SyncData struct {
	Code          string         `json:"code"`
	Collaborators []Collaborator `json:"collaborators"`
	Time          Time           `json:"time"`
	OwnerID       string         `json:"owner_id"`
	Difficulty    int            `json:"difficulty"`
}

type MoveData struct {
	Position Position `json:"position"`
	UserID   string   `json:"user_id,omitempty"`
}

type ReplaceData struct {
	Code []edit.Replacement `json:"code"`
}

// Payload of bugs requests; carries nothing
type BugsData struct{}

type EvaluateData struct {
	Result string `json:"result,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}
