package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/session-monitor/internal/model"
)

// Envelope type values.
const (
	TypeState          = "state"
	TypeEntityAppeared = "entity_appeared"
)

// Errors
var (
	ErrEmptyFrame  = errors.New("empty frame")
	ErrMissingType = errors.New("envelope has no type")
	ErrMissingData = errors.New("envelope has no data")
	ErrMissingID   = errors.New("entity has no id")
)

// Frame is one raw payload read from the push channel.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Event is a decoded push-channel message. The concrete type is one of
// StateSnapshot, EntityAppeared or Unknown.
type Event interface {
	// Kind returns the envelope type the event was decoded from.
	Kind() string
	isEvent()
}

// StateSnapshot replaces the full state of one session.
type StateSnapshot struct {
	Doc model.SessionState
}

// EntityAppeared announces a session that should be added to the lobby.
type EntityAppeared struct {
	Summary model.SessionSummary
}

// Unknown carries an envelope whose type this client does not handle.
type Unknown struct {
	Type string
	Data json.RawMessage
}

func (StateSnapshot) Kind() string  { return TypeState }
func (EntityAppeared) Kind() string { return TypeEntityAppeared }
func (u Unknown) Kind() string      { return u.Type }

func (StateSnapshot) isEvent()  {}
func (EntityAppeared) isEvent() {}
func (Unknown) isEvent()        {}

// ParseError reports a frame that could not be decoded.
type ParseError struct {
	Raw []byte
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse frame (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// envelope is the wire shape of every frame.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses a single frame into an Event. Failures are *ParseError.
func Decode(data []byte) (Event, error) {
	ev, perr := decode(data)
	if perr != nil {
		return nil, perr
	}
	return ev, nil
}

func decode(data []byte) (Event, *ParseError) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Raw: data, Err: ErrEmptyFrame}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Raw: data, Err: err}
	}
	if env.Type == "" {
		return nil, &ParseError{Raw: data, Err: ErrMissingType}
	}

	switch env.Type {
	case TypeState:
		doc := model.SessionState(env.Data)
		if doc.IsEmpty() {
			return nil, &ParseError{Raw: data, Err: ErrMissingData}
		}
		return StateSnapshot{Doc: doc.Clone()}, nil

	case TypeEntityAppeared:
		if model.SessionState(env.Data).IsEmpty() {
			return nil, &ParseError{Raw: data, Err: ErrMissingData}
		}
		var summary model.SessionSummary
		if err := json.Unmarshal(env.Data, &summary); err != nil {
			return nil, &ParseError{Raw: data, Err: fmt.Errorf("decode %s: %w", TypeEntityAppeared, err)}
		}
		if summary.ID == "" {
			return nil, &ParseError{Raw: data, Err: ErrMissingID}
		}
		return EntityAppeared{Summary: summary}, nil

	default:
		return Unknown{Type: env.Type, Data: bytes.Clone(env.Data)}, nil
	}
}
