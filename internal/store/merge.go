package store

import (
	"slices"

	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/router"
)

// SessionStore holds the document of a single session.
type SessionStore = Store[model.SessionState]

// LobbyStore holds the list of sessions, newest first.
type LobbyStore = Store[[]model.SessionSummary]

// NewSessionStore creates a store with last-write-wins session semantics.
func NewSessionStore(opts ...Option) *SessionStore {
	return New[model.SessionState](MergeSession, model.SessionState.Clone, opts...)
}

// NewLobbyStore creates a store with dedup-and-prepend lobby semantics.
func NewLobbyStore(opts ...Option) *LobbyStore {
	return New[[]model.SessionSummary](MergeLobby, CloneLobby, opts...)
}

// MergeSession replaces the document on StateSnapshot and ignores
// everything else.
func MergeSession(cur model.SessionState, ev router.Event) (model.SessionState, bool) {
	snap, ok := ev.(router.StateSnapshot)
	if !ok {
		return cur, false
	}
	return snap.Doc.Clone(), true
}

// MergeLobby prepends the announced session unless its id is already listed.
func MergeLobby(cur []model.SessionSummary, ev router.Event) ([]model.SessionSummary, bool) {
	appeared, ok := ev.(router.EntityAppeared)
	if !ok {
		return cur, false
	}

	id := appeared.Summary.ID
	if slices.ContainsFunc(cur, func(s model.SessionSummary) bool { return s.ID == id }) {
		return cur, false
	}

	next := make([]model.SessionSummary, 0, len(cur)+1)
	next = append(next, appeared.Summary)
	next = append(next, cur...)
	return next, true
}

// CloneLobby copies a lobby list, keeping only the first entry for each id.
// A nil list becomes an empty one.
func CloneLobby(in []model.SessionSummary) []model.SessionSummary {
	out := make([]model.SessionSummary, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}
