package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/session-monitor/internal/connection"
	"github.com/rickgao/session-monitor/internal/hydrate"
	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/router"
	"github.com/rickgao/session-monitor/internal/store"
)

// fakeConn is a connection.Client fed by the test.
type fakeConn struct {
	frames chan router.Frame
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan router.Frame, 16)}
}

func (f *fakeConn) Connect(ctx context.Context) error { return nil }
func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.frames) })
	return nil
}
func (f *fakeConn) Frames() <-chan router.Frame { return f.frames }
func (f *fakeConn) Err() error                  { return nil }
func (f *fakeConn) IsConnected() bool           { return true }
func (f *fakeConn) ID() string                  { return "fake" }

func (f *fakeConn) send(s string) {
	f.frames <- router.Frame{Data: []byte(s), ReceivedAt: time.Now()}
}

// fakeDialer hands out fakeConns and remembers them per topic URL.
type fakeDialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	ready chan string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[string]*fakeConn), ready: make(chan string, 16)}
}

func (d *fakeDialer) dial(ctx context.Context, cfg connection.ClientConfig, _ *slog.Logger) (connection.Client, error) {
	c := newFakeConn()
	d.mu.Lock()
	d.conns[cfg.URL] = c
	d.mu.Unlock()
	d.ready <- cfg.URL
	return c, nil
}

func (d *fakeDialer) conn(t *testing.T, topic model.Topic) *fakeConn {
	t.Helper()
	want := connection.ChannelURL("ws://test", topic)
	deadline := time.After(2 * time.Second)
	for {
		d.mu.Lock()
		c, ok := d.conns[want]
		d.mu.Unlock()
		if ok {
			return c
		}
		select {
		case <-d.ready:
		case <-deadline:
			t.Fatalf("no connection dialed for %s", want)
		}
	}
}

// fakeHydrator returns canned results, optionally blocking per topic.
type fakeHydrator struct {
	mu      sync.Mutex
	results map[string]any
	errs    map[string]error
	gates   map[string]chan struct{}
	calls   atomic.Int32
}

func newFakeHydrator() *fakeHydrator {
	return &fakeHydrator{
		results: make(map[string]any),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
	}
}

func (h *fakeHydrator) Fetch(ctx context.Context, topic model.Topic) (any, error) {
	h.calls.Add(1)
	h.mu.Lock()
	gate := h.gates[topic.String()]
	h.mu.Unlock()

	if gate != nil {
		// Late results ignore cancellation to exercise the discard path.
		<-gate
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results[topic.String()], h.errs[topic.String()]
}

// recorded collects observations.
type recorded struct {
	mu   sync.Mutex
	list []model.Observation
}

func (r *recorded) Record(obs model.Observation) bool {
	r.mu.Lock()
	r.list = append(r.list, obs)
	r.mu.Unlock()
	return true
}

func (r *recorded) snapshot() []model.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Observation(nil), r.list...)
}

func newTestController(t *testing.T, h Hydrator, d *fakeDialer, cfg Config, opts ...Option) *Controller {
	t.Helper()
	rcfg := connection.DefaultReconnectConfig()
	rcfg.WSURL = "ws://test"
	ch := connection.NewReconnecting(rcfg, nil,
		connection.WithClock(clockwork.NewFakeClock()),
		connection.WithDialer(d.dial),
	)
	c := NewController(cfg, h, ch, nil, opts...)
	t.Cleanup(c.Deactivate)
	return c
}

// waitView waits for a view that satisfies pred.
func waitView(t *testing.T, obs *Observable, what string, pred func(View) bool) View {
	t.Helper()
	if v := obs.Current(); pred(v) {
		return v
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-obs.Updates():
			if v := obs.Current(); pred(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s; last view %+v", what, obs.Current())
		}
	}
}

func sessionIs(doc string) func(View) bool {
	return func(v View) bool { return string(v.Session) == doc }
}

func TestController_ActivateSession(t *testing.T) {
	h := newFakeHydrator()
	h.results["session:p1"] = model.SessionState(`{"turn":1}`)
	d := newFakeDialer()
	c := newTestController(t, h, d, Config{})

	obs, err := c.Activate(context.Background(), model.SessionTopic("p1"))
	require.NoError(t, err)
	assert.Equal(t, model.SessionTopic("p1"), obs.Topic())

	v := waitView(t, obs, "hydrated", sessionIs(`{"turn":1}`))
	assert.Equal(t, store.StatusReady, v.Status)
	assert.Equal(t, "session:p1", v.TopicName)

	d.conn(t, model.SessionTopic("p1")).send(`{"type":"state","data":{"turn":2}}`)
	waitView(t, obs, "pushed state", sessionIs(`{"turn":2}`))

	active, ok := c.Active()
	require.True(t, ok)
	assert.Same(t, obs, active)
}

func TestController_MalformedFramesChangeNothing(t *testing.T) {
	h := newFakeHydrator()
	h.results["session:p1"] = model.SessionState(`{"turn":1}`)
	d := newFakeDialer()
	c := newTestController(t, h, d, Config{})

	obs, err := c.Activate(context.Background(), model.SessionTopic("p1"))
	require.NoError(t, err)
	before := waitView(t, obs, "hydrated", sessionIs(`{"turn":1}`))

	conn := d.conn(t, model.SessionTopic("p1"))
	conn.send(`{{{`)
	conn.send(`{"type":"state","data":null}`)
	conn.send(`{"type":"entity_appeared","data":{"id":"s1"}}`)
	conn.send(`{"type":"state","data":{"turn":5}}`)

	after := waitView(t, obs, "valid frame", sessionIs(`{"turn":5}`))
	assert.Equal(t, before.Version+1, after.Version, "only the valid snapshot may change the store")
	assert.Equal(t, connection.StateOpen, after.Connection.State)
}

func TestController_HydrationFailureIsVisible(t *testing.T) {
	h := newFakeHydrator()
	h.errs["session:p1"] = errors.New("session api error 503")
	d := newFakeDialer()
	c := newTestController(t, h, d, Config{})

	obs, err := c.Activate(context.Background(), model.SessionTopic("p1"))
	require.NoError(t, err)

	v := waitView(t, obs, "failed", func(v View) bool { return v.Status == store.StatusFailed })
	assert.Contains(t, v.HydrationError, "503")
	assert.Empty(t, v.Session)

	// The channel keeps working after a failed pull.
	d.conn(t, model.SessionTopic("p1")).send(`{"type":"state","data":{"turn":8}}`)
	v = waitView(t, obs, "pushed state", sessionIs(`{"turn":8}`))
	assert.Equal(t, store.StatusReady, v.Status)
}

func TestController_WrongHydrationType(t *testing.T) {
	h := newFakeHydrator()
	h.results["lobby"] = model.SessionState(`{}`)
	d := newFakeDialer()
	c := newTestController(t, h, d, Config{})

	obs, err := c.Activate(context.Background(), model.LobbyTopic())
	require.NoError(t, err)

	v := waitView(t, obs, "failed", func(v View) bool { return v.Status == store.StatusFailed })
	assert.Contains(t, v.HydrationError, ErrUnexpectedResult.Error())
}

func TestController_DiscardsLateHydration(t *testing.T) {
	h := newFakeHydrator()
	gate := make(chan struct{})
	h.gates["session:p1"] = gate
	h.results["session:p1"] = model.SessionState(`{"stale":true}`)
	h.results["session:p2"] = model.SessionState(`{"turn":1}`)
	d := newFakeDialer()
	c := newTestController(t, h, d, Config{})

	first, err := c.Activate(context.Background(), model.SessionTopic("p1"))
	require.NoError(t, err)

	// Switching topics waits for the old activation's goroutines, so the
	// gated fetch is released from a separate goroutine.
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(gate)
	}()

	second, err := c.Activate(context.Background(), model.SessionTopic("p2"))
	require.NoError(t, err)

	_, open := <-first.Updates()
	for open {
		_, open = <-first.Updates()
	}
	assert.Empty(t, first.Current().Session, "late result must not reach the old store")

	v := waitView(t, second, "p2 hydrated", sessionIs(`{"turn":1}`))
	assert.Equal(t, "session:p2", v.TopicName)
}

func TestController_Deactivate(t *testing.T) {
	h := newFakeHydrator()
	h.results["lobby"] = []model.SessionSummary{}
	d := newFakeDialer()
	c := newTestController(t, h, d, Config{})

	obs, err := c.Activate(context.Background(), model.LobbyTopic())
	require.NoError(t, err)
	waitView(t, obs, "hydrated", func(v View) bool { return v.Status == store.StatusReady })

	c.Deactivate()

	select {
	case _, ok := <-obs.Updates():
		for ok {
			_, ok = <-obs.Updates()
		}
	case <-time.After(time.Second):
		t.Fatal("Updates not closed after Deactivate")
	}

	_, ok := c.Active()
	assert.False(t, ok)
	assert.ErrorIs(t, c.Refresh(context.Background()), ErrNotActive)

	// Safe to call twice.
	c.Deactivate()
}

func TestController_ActivateInvalidTopic(t *testing.T) {
	c := newTestController(t, newFakeHydrator(), newFakeDialer(), Config{})
	_, err := c.Activate(context.Background(), model.SessionTopic(""))
	assert.Error(t, err)

	_, ok := c.Active()
	assert.False(t, ok)
}

func TestController_Refresh(t *testing.T) {
	h := newFakeHydrator()
	h.results["session:p1"] = model.SessionState(`{"turn":1}`)
	d := newFakeDialer()
	c := newTestController(t, h, d, Config{})

	obs, err := c.Activate(context.Background(), model.SessionTopic("p1"))
	require.NoError(t, err)
	waitView(t, obs, "hydrated", sessionIs(`{"turn":1}`))

	h.mu.Lock()
	h.results["session:p1"] = model.SessionState(`{"turn":4}`)
	h.mu.Unlock()

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, `{"turn":4}`, string(obs.Current().Session))

	h.mu.Lock()
	h.errs["session:p1"] = errors.New("down")
	h.mu.Unlock()

	err = c.Refresh(context.Background())
	assert.EqualError(t, err, "down")
	v := obs.Current()
	assert.Equal(t, store.StatusReady, v.Status, "existing data stays visible")
	assert.Equal(t, "down", v.HydrationError)
}

func TestController_Resync(t *testing.T) {
	h := newFakeHydrator()
	h.results["lobby"] = []model.SessionSummary{}
	d := newFakeDialer()
	clock := clockwork.NewFakeClock()
	c := newTestController(t, h, d, Config{ResyncInterval: time.Minute}, WithClock(clock))

	obs, err := c.Activate(context.Background(), model.LobbyTopic())
	require.NoError(t, err)
	waitView(t, obs, "hydrated", func(v View) bool { return v.Status == store.StatusReady })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	h.mu.Lock()
	h.results["lobby"] = []model.SessionSummary{{ID: "s9"}}
	h.mu.Unlock()

	clock.Advance(time.Minute)
	v := waitView(t, obs, "resynced", func(v View) bool { return len(v.Lobby) == 1 })
	assert.Equal(t, "s9", v.Lobby[0].ID)
	assert.GreaterOrEqual(t, h.calls.Load(), int32(2))
}

func TestController_Recorder(t *testing.T) {
	h := newFakeHydrator()
	h.results["session:p1"] = model.SessionState(`{"turn":1}`)
	d := newFakeDialer()
	rec := &recorded{}
	c := newTestController(t, h, d, Config{}, WithRecorder(rec))

	obs, err := c.Activate(context.Background(), model.SessionTopic("p1"))
	require.NoError(t, err)
	waitView(t, obs, "hydrated", sessionIs(`{"turn":1}`))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	d.conn(t, model.SessionTopic("p1")).send(`{"type":"state","data":{"turn":2}}`)
	waitView(t, obs, "pushed", sessionIs(`{"turn":2}`))

	require.Eventually(t, func() bool {
		list := rec.snapshot()
		return len(list) > 0 && string(list[len(list)-1].Payload) == `{"turn":2}`
	}, 2*time.Second, 5*time.Millisecond)

	list := rec.snapshot()
	last := list[len(list)-1]
	assert.Equal(t, "session:p1", last.Topic)
	assert.Equal(t, "ready", last.Status)
	assert.Equal(t, list[0].ObserverID, last.ObserverID)
	assert.NotEqual(t, list[0].ID, last.ID)
}

// lingeringSource blocks its first state request until that request is
// cancelled and then takes a while to return; later requests answer at once.
type lingeringSource struct {
	calls atomic.Int32
}

func (s *lingeringSource) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	return nil, errors.New("not used")
}

func (s *lingeringSource) GetSessionState(ctx context.Context, id string) (model.SessionState, error) {
	n := s.calls.Add(1)
	if n == 1 {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	}
	return model.SessionState(`{"fetch":2}`), nil
}

func TestController_ReactivateSameTopicDuringFetch(t *testing.T) {
	src := &lingeringSource{}
	fetcher := hydrate.NewFetcher(src, nil)
	d := newFakeDialer()
	c := newTestController(t, fetcher, d, Config{})

	topic := model.SessionTopic("p1")
	_, err := c.Activate(context.Background(), topic)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Deactivate()

	obs, err := c.Activate(context.Background(), topic)
	require.NoError(t, err)

	v := waitView(t, obs, "second fetch", sessionIs(`{"fetch":2}`))
	assert.Equal(t, store.StatusReady, v.Status)
	assert.Empty(t, v.HydrationError)
	assert.Equal(t, int32(2), src.calls.Load())
}
