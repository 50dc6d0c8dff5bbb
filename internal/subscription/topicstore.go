package subscription

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/router"
	"github.com/rickgao/session-monitor/internal/store"
)

// topicStore hides the value type of the store behind the active topic.
type topicStore interface {
	applyEvent(ev router.Event) bool
	applyHydration(v any) error
	applyHydrationError(err error)
	view() View
	subscribe() (<-chan View, func())
}

func newTopicStore(topic model.Topic, clock clockwork.Clock) topicStore {
	if topic.IsLobby() {
		return &typedStore[[]model.SessionSummary]{
			topic: topic,
			s:     store.NewLobbyStore(store.WithClock(clock)),
			fill:  fillLobby,
		}
	}
	return &typedStore[model.SessionState]{
		topic: topic,
		s:     store.NewSessionStore(store.WithClock(clock)),
		fill:  fillSession,
	}
}

type typedStore[V any] struct {
	topic model.Topic
	s     *store.Store[V]
	fill  func(*View, V)
}

func (t *typedStore[V]) applyEvent(ev router.Event) bool {
	return t.s.ApplyEvent(ev)
}

func (t *typedStore[V]) applyHydration(v any) error {
	typed, ok := v.(V)
	if !ok {
		return fmt.Errorf("%w: %T for %s", ErrUnexpectedResult, v, t.topic)
	}
	t.s.ApplyHydration(typed)
	return nil
}

func (t *typedStore[V]) applyHydrationError(err error) {
	t.s.ApplyHydrationError(err)
}

func (t *typedStore[V]) view() View {
	return viewOf(t.topic, t.s.Current(), t.fill)
}

func (t *typedStore[V]) subscribe() (<-chan View, func()) {
	snaps, cancel := t.s.Subscribe()
	out := make(chan View)

	go func() {
		defer close(out)
		for snap := range snaps {
			out <- viewOf(t.topic, snap, t.fill)
		}
	}()

	return out, cancel
}
