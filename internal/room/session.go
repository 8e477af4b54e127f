package room

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shobu13/kindly-kappa/internal/protocol"
)

// Identifies a connected user. Rooms key membership and cursors on it.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Delivers events to one connected user
type Sender interface {
	Send(resp protocol.Response) error
}

// One connected user. Only the ID takes part in equality.
type Session struct {
	ID       SessionID
	Username string
	sender   Sender
}

func NewSession(sender Sender) *Session {
	return &Session{ID: NewSessionID(), sender: sender}
}

func (s *Session) Send(resp protocol.Response) error {
	return s.sender.Send(resp)
}

func (s *Session) Collaborator() protocol.Collaborator {
	return protocol.Collaborator{ID: string(s.ID), Username: s.Username}
}
