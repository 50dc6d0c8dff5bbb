package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/router"
)

func appeared(id string) router.EntityAppeared {
	return router.EntityAppeared{Summary: model.SessionSummary{ID: id, PlayerCount: 2}}
}

func ids(list []model.SessionSummary) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func TestSessionStore_HydrationThenEvent(t *testing.T) {
	s := NewSessionStore()
	s.ApplyHydration(model.SessionState(`{"turn":1}`))

	applied := s.ApplyEvent(router.StateSnapshot{Doc: model.SessionState(`{"turn":2}`)})
	assert.True(t, applied)

	snap := s.Current()
	assert.Equal(t, `{"turn":2}`, string(snap.Value))
	assert.Equal(t, StatusReady, snap.Status)
	assert.Equal(t, uint64(2), snap.Version)
}

func TestSessionStore_EventThenHydration(t *testing.T) {
	s := NewSessionStore()
	require.True(t, s.ApplyEvent(router.StateSnapshot{Doc: model.SessionState(`{"turn":2}`)}))
	s.ApplyHydration(model.SessionState(`{"turn":1}`))

	// Whichever was applied last wins.
	assert.Equal(t, `{"turn":1}`, string(s.Current().Value))
}

func TestSessionStore_IgnoresOtherEvents(t *testing.T) {
	s := NewSessionStore()
	s.ApplyHydration(model.SessionState(`{"turn":1}`))

	assert.False(t, s.ApplyEvent(appeared("s1")))
	assert.False(t, s.ApplyEvent(router.Unknown{Type: "chat"}))
	assert.False(t, s.ApplyEvent(nil))

	snap := s.Current()
	assert.Equal(t, `{"turn":1}`, string(snap.Value))
	assert.Equal(t, uint64(1), snap.Version)
}

func TestLobbyStore_Dedup(t *testing.T) {
	s := NewLobbyStore()
	s.ApplyHydration(nil)

	assert.True(t, s.ApplyEvent(appeared("a")))
	assert.False(t, s.ApplyEvent(appeared("a")))

	assert.Equal(t, []string{"a"}, ids(s.Current().Value))
}

func TestLobbyStore_DedupByIDNotPayload(t *testing.T) {
	s := NewLobbyStore()
	require.True(t, s.ApplyEvent(appeared("a")))

	changed := router.EntityAppeared{Summary: model.SessionSummary{ID: "a", Turn: 9, PlayerCount: 5}}
	assert.False(t, s.ApplyEvent(changed))

	list := s.Current().Value
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].Turn)
}

func TestLobbyStore_MostRecentFirst(t *testing.T) {
	s := NewLobbyStore()
	s.ApplyHydration([]model.SessionSummary{{ID: "old1"}, {ID: "old2"}})

	s.ApplyEvent(appeared("b"))
	s.ApplyEvent(appeared("a"))
	s.ApplyEvent(appeared("old2"))

	assert.Equal(t, []string{"a", "b", "old1", "old2"}, ids(s.Current().Value))
}

func TestLobbyStore_IgnoresSnapshots(t *testing.T) {
	s := NewLobbyStore()
	assert.False(t, s.ApplyEvent(router.StateSnapshot{Doc: model.SessionState(`{}`)}))
	assert.Equal(t, StatusPending, s.Current().Status)
}

func TestLobbyStore_HydrationReplaces(t *testing.T) {
	s := NewLobbyStore()
	s.ApplyEvent(appeared("x"))
	s.ApplyHydration([]model.SessionSummary{{ID: "y"}})

	assert.Equal(t, []string{"y"}, ids(s.Current().Value))
}

func TestLobbyStore_HydrationDropsRepeatedIDs(t *testing.T) {
	s := NewLobbyStore()
	s.ApplyHydration([]model.SessionSummary{
		{ID: "a", Turn: 1},
		{ID: "b"},
		{ID: "a", Turn: 7},
	})

	list := s.Current().Value
	assert.Equal(t, []string{"a", "b"}, ids(list))
	assert.Equal(t, 1, list[0].Turn, "first occurrence wins")

	assert.False(t, s.ApplyEvent(appeared("b")))
}

func TestCurrent_IsDeepCopy(t *testing.T) {
	t.Run("session", func(t *testing.T) {
		s := NewSessionStore()
		doc := model.SessionState(`{"turn":1}`)
		s.ApplyHydration(doc)
		doc[2] = 'X'

		snap := s.Current()
		snap.Value[2] = 'Y'

		assert.Equal(t, `{"turn":1}`, string(s.Current().Value))
	})

	t.Run("lobby", func(t *testing.T) {
		s := NewLobbyStore()
		s.ApplyHydration([]model.SessionSummary{{ID: "a"}})

		snap := s.Current()
		snap.Value[0].ID = "mutated"
		snap.Value = append(snap.Value, model.SessionSummary{ID: "extra"})

		assert.Equal(t, []string{"a"}, ids(s.Current().Value))
	})
}

func TestStatusTransitions(t *testing.T) {
	fetchErr := errors.New("503 unavailable")

	s := NewSessionStore()
	snap := s.Current()
	assert.Equal(t, StatusPending, snap.Status)
	assert.Nil(t, snap.Value)

	s.ApplyHydrationError(fetchErr)
	snap = s.Current()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.ErrorIs(t, snap.HydrationErr, fetchErr)

	// Push data after a failed fetch makes the store ready but keeps the error visible.
	s.ApplyEvent(router.StateSnapshot{Doc: model.SessionState(`{"turn":3}`)})
	snap = s.Current()
	assert.Equal(t, StatusReady, snap.Status)
	assert.ErrorIs(t, snap.HydrationErr, fetchErr)

	s.ApplyHydration(model.SessionState(`{"turn":4}`))
	snap = s.Current()
	assert.Equal(t, StatusReady, snap.Status)
	assert.NoError(t, snap.HydrationErr)

	s.ApplyHydrationError(nil)
	assert.Equal(t, uint64(3), s.Current().Version)
}

func TestUpdatedAt_UsesClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	s := NewSessionStore(WithClock(clock))

	s.ApplyHydration(model.SessionState(`{}`))
	assert.Equal(t, clock.Now(), s.Current().UpdatedAt)

	clock.Advance(time.Minute)
	s.ApplyEvent(router.StateSnapshot{Doc: model.SessionState(`{"turn":1}`)})
	assert.Equal(t, clock.Now(), s.Current().UpdatedAt)
}

func TestSubscribe_LatestWins(t *testing.T) {
	s := NewLobbyStore()
	updates, cancel := s.Subscribe()
	defer cancel()

	s.ApplyHydration(nil)
	s.ApplyEvent(appeared("a"))
	s.ApplyEvent(appeared("b"))

	select {
	case snap := <-updates:
		assert.Equal(t, uint64(3), snap.Version)
		assert.Equal(t, []string{"b", "a"}, ids(snap.Value))
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	select {
	case snap := <-updates:
		t.Fatalf("unexpected extra update: %+v", snap)
	default:
	}
}

func TestSubscribe_NoNotificationForIgnoredEvent(t *testing.T) {
	s := NewLobbyStore()
	s.ApplyEvent(appeared("a"))

	updates, cancel := s.Subscribe()
	defer cancel()

	s.ApplyEvent(appeared("a"))

	select {
	case <-updates:
		t.Fatal("duplicate event must not notify")
	default:
	}
}

func TestSubscribe_Cancel(t *testing.T) {
	s := NewSessionStore()
	updates, cancel := s.Subscribe()
	cancel()
	cancel()

	_, ok := <-updates
	assert.False(t, ok, "channel should be closed")

	// Writers are unaffected by cancelled subscribers.
	s.ApplyHydration(model.SessionState(`{}`))
	assert.Equal(t, StatusReady, s.Current().Status)
}

func TestConcurrentApply(t *testing.T) {
	s := NewLobbyStore()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.ApplyEvent(appeared(string(rune('a' + i%26))))
				_ = s.Current()
			}
		}()
	}
	wg.Wait()

	list := s.Current().Value
	assert.Len(t, list, 26)
	seen := make(map[string]bool)
	for _, e := range list {
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(9).String())

	text, err := StatusFailed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "failed", string(text))
}
