// Package hydrate performs the one-shot pull that seeds a topic's store.
package hydrate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/session-monitor/internal/model"
)

// Source is the pull side of the session server API.
type Source interface {
	ListSessions(ctx context.Context) ([]model.SessionSummary, error)
	GetSessionState(ctx context.Context, id string) (model.SessionState, error)
}

// Error wraps a failed hydration with the topic it was for.
type Error struct {
	Topic model.Topic
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hydrate %s: %v", e.Topic, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetcher pulls the full current value for a topic. It performs exactly one
// request per call and never retries; concurrent calls for the same topic
// share a single request.
//
// A shared request runs under its own context, cancelled only once every
// caller waiting on it has gone. A caller arriving after that starts a new
// request rather than joining the abandoned one.
type Fetcher struct {
	src    Source
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
	seq     uint64
}

// flight is one shared request and the callers still waiting on it.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewFetcher creates a Fetcher.
func NewFetcher(src Source, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		src:     src,
		logger:  logger,
		flights: make(map[string]*flight),
	}
}

// Session fetches the state document of one session.
func (f *Fetcher) Session(ctx context.Context, id string) (model.SessionState, error) {
	topic := model.SessionTopic(id)
	v, err := f.do(ctx, topic, func(ctx context.Context) (any, error) {
		return f.src.GetSessionState(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(model.SessionState).Clone(), nil
}

// Lobby fetches the list of all sessions in server order.
func (f *Fetcher) Lobby(ctx context.Context) ([]model.SessionSummary, error) {
	v, err := f.do(ctx, model.LobbyTopic(), func(ctx context.Context) (any, error) {
		return f.src.ListSessions(ctx)
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]model.SessionSummary)
	out := make([]model.SessionSummary, len(shared))
	copy(out, shared)
	return out, nil
}

// Fetch dispatches on the topic kind. The result is a model.SessionState
// for session topics and a []model.SessionSummary for the lobby.
func (f *Fetcher) Fetch(ctx context.Context, topic model.Topic) (any, error) {
	if err := topic.Validate(); err != nil {
		return nil, &Error{Topic: topic, Err: err}
	}
	if topic.IsLobby() {
		return f.Lobby(ctx)
	}
	return f.Session(ctx, topic.SessionID)
}

func (f *Fetcher) do(ctx context.Context, topic model.Topic, fn func(context.Context) (any, error)) (any, error) {
	fl := f.join(ctx, topic.String())
	defer f.leave(fl)

	ch := f.group.DoChan(fl.key, func() (any, error) {
		return fn(fl.ctx)
	})

	select {
	case <-ctx.Done():
		return nil, &Error{Topic: topic, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			f.logger.Debug("hydration failed", "topic", topic.String(), "error", res.Err)
			return nil, &Error{Topic: topic, Err: res.Err}
		}
		f.logger.Debug("hydration complete", "topic", topic.String(), "shared", res.Shared)
		return res.Val, nil
	}
}

// join attaches the caller to the live flight for name, or opens a new one.
func (f *Fetcher) join(ctx context.Context, name string) *flight {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fl, ok := f.flights[name]; ok {
		fl.waiters++
		return fl
	}

	f.seq++
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	fl := &flight{
		key:     name + "#" + strconv.FormatUint(f.seq, 10),
		ctx:     fctx,
		cancel:  cancel,
		waiters: 1,
	}
	f.flights[name] = fl
	return fl
}

// leave detaches a caller; the last one out cancels the request.
func (f *Fetcher) leave(fl *flight) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	for name, cur := range f.flights {
		if cur == fl {
			delete(f.flights, name)
			break
		}
	}
}
