package api

import (
	"context"
	"errors"
	"net/url"

	"github.com/rickgao/session-monitor/internal/model"
)

// ErrEmptySessionID is returned when a session call is made without an id.
var ErrEmptySessionID = errors.New("session id is required")

// ListSessions fetches all active sessions in server order.
func (c *Client) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	var sessions []model.SessionSummary
	if err := c.getOnce(ctx, "/sessions", &sessions); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.SessionSummary{}
	}
	return sessions, nil
}

// GetSessionState fetches the state document of one session.
func (c *Client) GetSessionState(ctx context.Context, id string) (model.SessionState, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	var state model.SessionState
	if err := c.getOnce(ctx, "/sessions/"+url.PathEscape(id)+"/state", &state); err != nil {
		return nil, err
	}
	return state, nil
}

// CreateSession creates a session for the given players.
func (c *Client) CreateSession(ctx context.Context, players []string) (*model.CreateSessionResponse, error) {
	var resp model.CreateSessionResponse
	req := model.CreateSessionRequest{Players: players}
	if err := c.post(ctx, "/sessions", req, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("session created", "session_id", resp.ID, "players", len(players))
	return &resp, nil
}

// ApplyAction submits an action to a session and returns the resulting state.
func (c *Client) ApplyAction(ctx context.Context, id string, action model.Action) (model.SessionState, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	var state model.SessionState
	if err := c.post(ctx, "/sessions/"+url.PathEscape(id)+"/actions", action, &state); err != nil {
		return nil, err
	}
	return state, nil
}
