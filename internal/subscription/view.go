package subscription

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rickgao/session-monitor/internal/connection"
	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/store"
)

// View is what consumers render for the active topic.
type View struct {
	Topic          model.Topic            `json:"-"`
	TopicName      string                 `json:"topic"`
	Status         store.Status           `json:"status"`
	Session        model.SessionState     `json:"session,omitempty"`
	Lobby          []model.SessionSummary `json:"lobby,omitempty"`
	HydrationError string                 `json:"hydration_error,omitempty"`
	Connection     connection.Status      `json:"connection"`
	Version        uint64                 `json:"version"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Payload returns the topic value as JSON: the session document, or the
// lobby list.
func (v View) Payload() json.RawMessage {
	if v.Topic.IsLobby() {
		data, _ := json.Marshal(v.Lobby)
		return data
	}
	if v.Session.IsEmpty() {
		return json.RawMessage("null")
	}
	return json.RawMessage(v.Session.Clone())
}

func viewOf[V any](topic model.Topic, snap store.Snapshot[V], fill func(*View, V)) View {
	v := View{
		Topic:     topic,
		TopicName: topic.String(),
		Status:    snap.Status,
		Version:   snap.Version,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.HydrationErr != nil {
		v.HydrationError = snap.HydrationErr.Error()
	}
	if snap.Status == store.StatusReady {
		fill(&v, snap.Value)
	}
	return v
}

func fillSession(v *View, doc model.SessionState) { v.Session = doc }

func fillLobby(v *View, list []model.SessionSummary) { v.Lobby = list }

// Observable exposes the current View of one activation.
type Observable struct {
	topic   model.Topic
	current func() View

	updates chan View
	mu      sync.Mutex
	closed  bool
}

func newObservable(topic model.Topic, current func() View) *Observable {
	return &Observable{
		topic:   topic,
		current: current,
		updates: make(chan View, 1),
	}
}

// Topic returns the observed topic.
func (o *Observable) Topic() model.Topic {
	return o.topic
}

// Current returns the latest View.
func (o *Observable) Current() View {
	return o.current()
}

// Updates delivers a View after every change, latest-wins. The channel is
// closed when the topic is deactivated.
func (o *Observable) Updates() <-chan View {
	return o.updates
}

func (o *Observable) publish(v View) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	select {
	case o.updates <- v:
	default:
		select {
		case <-o.updates:
		default:
		}
		o.updates <- v
	}
}

func (o *Observable) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.updates)
	}
}
