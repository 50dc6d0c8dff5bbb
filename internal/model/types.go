package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LobbyChannelID is the channel id the server uses for the list of all sessions.
const LobbyChannelID = "_lobby"

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// TopicKind distinguishes the two things a client can subscribe to.
type TopicKind int

const (
	TopicSession TopicKind = iota + 1
	TopicLobby
)

// String returns a human-readable kind name.
func (k TopicKind) String() string {
	switch k {
	case TopicSession:
		return "session"
	case TopicLobby:
		return "lobby"
	default:
		return "unknown"
	}
}

// Topic identifies what is being subscribed to.
type Topic struct {
	Kind      TopicKind
	SessionID string // Empty for the lobby
}

// SessionTopic returns the topic for a single session.
func SessionTopic(id string) Topic {
	return Topic{Kind: TopicSession, SessionID: id}
}

// LobbyTopic returns the topic for the list of all sessions.
func LobbyTopic() Topic {
	return Topic{Kind: TopicLobby}
}

// IsLobby reports whether t is the lobby topic.
func (t Topic) IsLobby() bool {
	return t.Kind == TopicLobby
}

// ChannelID returns the identifier used to parameterize the push channel.
func (t Topic) ChannelID() string {
	if t.Kind == TopicLobby {
		return LobbyChannelID
	}
	return t.SessionID
}

// Validate checks that the topic is well formed.
func (t Topic) Validate() error {
	switch t.Kind {
	case TopicLobby:
		return nil
	case TopicSession:
		if t.SessionID == "" {
			return fmt.Errorf("session topic requires an id")
		}
		if t.SessionID == LobbyChannelID {
			return fmt.Errorf("session id %q is reserved", LobbyChannelID)
		}
		return nil
	default:
		return fmt.Errorf("unknown topic kind %d", t.Kind)
	}
}

// String returns "lobby" or "session:<id>".
func (t Topic) String() string {
	if t.Kind == TopicLobby {
		return "lobby"
	}
	return "session:" + t.SessionID
}

// -----------------------------------------------------------------------------
// Session documents
// -----------------------------------------------------------------------------

// SessionSummary is one entry of the lobby list.
type SessionSummary struct {
	ID          string `json:"id"`
	Turn        int    `json:"turn"`
	PlayerCount int    `json:"playerCount"`
}

// SessionState is a server-owned session document. The client stores and
// forwards it without interpreting its contents.
type SessionState json.RawMessage

// MarshalJSON emits the document verbatim ("null" when empty).
func (s SessionState) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return []byte(s), nil
}

// UnmarshalJSON stores a copy of the raw document.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	if s == nil {
		return fmt.Errorf("model.SessionState: UnmarshalJSON on nil pointer")
	}
	*s = append((*s)[0:0], data...)
	return nil
}

// Clone returns an independent copy of the document.
func (s SessionState) Clone() SessionState {
	if s == nil {
		return nil
	}
	return bytes.Clone(s)
}

// IsEmpty reports whether the document is absent or JSON null.
func (s SessionState) IsEmpty() bool {
	trimmed := bytes.TrimSpace(s)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Equal reports whether two documents are byte-identical after trimming
// surrounding whitespace.
func (s SessionState) Equal(other SessionState) bool {
	return bytes.Equal(bytes.TrimSpace(s), bytes.TrimSpace(other))
}

// -----------------------------------------------------------------------------
// Mutation payloads
// -----------------------------------------------------------------------------

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Players []string `json:"players"`
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	ID    string       `json:"id"`
	State SessionState `json:"state"`
}

// Action is the body of POST /sessions/{id}/actions.
type Action struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

// -----------------------------------------------------------------------------
// Observations
// -----------------------------------------------------------------------------

// Observation is one applied change of a topic's read model, as recorded
// for later inspection.
type Observation struct {
	ID         uuid.UUID
	ObserverID uuid.UUID // Identifies the monitor process that saw the change
	Topic      string
	Status     string
	Version    uint64
	Payload    json.RawMessage
	ObservedAt time.Time
}
