package types

import (
	"errors"

	"github.com/google/uuid"
)

// SessionMeta identifies one controller session (one client launch).
type SessionMeta struct {
	// ID is the session identifier. Unique per launch.
	ID string
	// Host is the remote host the client is asked to connect to.
	Host string
}

// NewSessionMeta creates session metadata with a fresh random ID.
func NewSessionMeta(host string) *SessionMeta {
	return &SessionMeta{
		ID:   uuid.NewString(),
		Host: host,
	}
}

// Validate checks that the session has an ID.
func (s *SessionMeta) Validate() error {
	if s.ID == "" {
		return errors.New("session id must be non-empty")
	}
	return nil
}
