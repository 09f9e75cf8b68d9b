// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// UserID identifies the owner of a session. It is built from the channel
// name followed by channel-specific parts, e.g. "telegram:42:100".
type UserID string
type SessionID string
type RunID string
type EntryID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

func NewUserID(parts ...string) UserID {
	return UserID(strings.Join(parts, ":"))
}

// SessionIDFor derives the session id from the owning user. A user has at
// most one active session, so the id is stable for the user's lifetime.
func SessionIDFor(user UserID) SessionID {
	return SessionID("session:" + string(user))
}

// Channel returns the prefix before the first ':' (the front-end name).
func (u UserID) Channel() string {
	if i := strings.IndexByte(string(u), ':'); i >= 0 {
		return string(u)[:i]
	}
	return string(u)
}
