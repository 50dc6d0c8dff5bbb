package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/router"
)

// Handler receives every decoded event of an active handle. It is called
// from the handle's own goroutine, one event at a time, in arrival order.
// It must not call Stop on its own handle.
type Handler func(router.Event)

// DialFunc opens one connection. The default creates a Client from the
// ReconnectConfig template and calls Connect.
type DialFunc func(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error)

// Option configures a Reconnecting.
type Option func(*Reconnecting)

// WithClock sets the clock used for backoff timers.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Reconnecting) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithDialer replaces how connections are opened.
func WithDialer(dial DialFunc) Option {
	return func(r *Reconnecting) {
		if dial != nil {
			r.dial = dial
		}
	}
}

// Reconnecting keeps one push channel open for a topic, re-dialing with
// exponential backoff whenever the connection closes. At most one handle
// is active at a time.
type Reconnecting struct {
	cfg    ReconnectConfig
	logger *slog.Logger
	clock  clockwork.Clock
	dial   DialFunc

	// opMu serializes Start and Stop.
	opMu    sync.Mutex
	mu      sync.Mutex
	current *Handle
}

// NewReconnecting creates a Reconnecting channel.
func NewReconnecting(cfg ReconnectConfig, logger *slog.Logger, opts ...Option) *Reconnecting {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reconnecting{
		cfg:    cfg,
		logger: logger,
		clock:  clockwork.NewRealClock(),
		dial:   dialClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func dialClient(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error) {
	c := NewClient(cfg, logger)
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// ChannelURL returns the websocket URL for a topic.
func ChannelURL(wsURL string, topic model.Topic) string {
	return strings.TrimRight(wsURL, "/") + "/ws?session=" + url.QueryEscape(topic.ChannelID())
}

// Start opens the channel for topic and keeps it open until Stop is called
// or ctx is cancelled. A previously started handle is stopped first.
func (r *Reconnecting) Start(ctx context.Context, topic model.Topic, handler Handler) *Handle {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	prev := r.current
	r.mu.Unlock()
	if prev != nil {
		r.stop(prev)
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		topic:  topic,
		ctx:    hctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.status = Status{State: StateIdle, Since: r.clock.Now()}

	r.mu.Lock()
	r.current = h
	r.mu.Unlock()

	go r.run(h, handler)

	return h
}

// Stop cancels the handle, closes its connection and cancels any pending
// reconnect. It blocks until the handle's goroutine has exited. Stopping a
// nil or already stopped handle is a no-op.
func (r *Reconnecting) Stop(h *Handle) {
	if h == nil {
		return
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.stop(h)
}

func (r *Reconnecting) stop(h *Handle) {
	h.cancel()
	<-h.done

	r.mu.Lock()
	if r.current == h {
		r.current = nil
	}
	r.mu.Unlock()
}

// Status returns the state of the active handle, or Idle if none.
func (r *Reconnecting) Status() Status {
	r.mu.Lock()
	h := r.current
	r.mu.Unlock()
	if h == nil {
		return Status{State: StateIdle}
	}
	return h.Status()
}

// run is the handle's single owning goroutine: dial, pump frames, wait out
// the backoff, repeat.
func (r *Reconnecting) run(h *Handle, handler Handler) {
	defer close(h.done)

	logger := r.logger.With("topic", h.topic.String())
	backoff := NewBackoff(r.cfg.BaseDelay, r.cfg.MaxDelay)

	cfg := r.cfg.Client
	cfg.URL = ChannelURL(r.cfg.WSURL, h.topic)

	for {
		if h.ctx.Err() != nil {
			h.setState(StateClosed, "stopped", r.clock.Now())
			return
		}

		h.setState(StateConnecting, "", r.clock.Now())
		h.dials.Add(1)

		err := r.session(h, cfg, backoff, handler, logger)

		// A close that races with Stop must not schedule anything.
		if h.ctx.Err() != nil {
			h.setState(StateClosed, "stopped", r.clock.Now())
			return
		}

		h.setState(StateClosed, closeReason(err), r.clock.Now())

		delay := backoff.Next()
		h.reconnects.Add(1)
		h.lastDelay.Store(int64(delay))

		logger.Warn("channel closed, reconnecting",
			"error", err,
			"delay", delay,
		)

		if !r.wait(h.ctx, delay) {
			h.setState(StateClosed, "stopped", r.clock.Now())
			return
		}
	}
}

// session dials once and delivers events until the connection ends.
func (r *Reconnecting) session(h *Handle, cfg ClientConfig, backoff *Backoff, handler Handler, logger *slog.Logger) error {
	c, err := r.dial(h.ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	backoff.Reset()
	h.opens.Add(1)
	h.setState(StateOpen, "", r.clock.Now())
	logger.Info("channel open", "conn_id", c.ID())

	onDrop := func(perr *router.ParseError) {
		h.parseErrors.Add(1)
		logger.Debug("dropping malformed frame", "conn_id", c.ID(), "error", perr)
	}

	for ev := range router.Stream(h.ctx, c.Frames(), onDrop) {
		if _, ok := ev.(router.Unknown); ok {
			h.unknown.Add(1)
			logger.Debug("ignoring unknown event", "type", ev.Kind())
			continue
		}
		h.delivered.Add(1)
		handler(ev)
	}

	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosedByServer
}

// wait blocks for d on the injected clock. It returns false if ctx ends first.
func (r *Reconnecting) wait(ctx context.Context, d time.Duration) bool {
	timer := r.clock.NewTimer(d)
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		stopAndDrainTimer(timer)
		return false
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func closeReason(err error) string {
	if err == nil {
		return ""
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Op + " failed: " + te.Err.Error()
	}
	return err.Error()
}

// Handle is one started subscription of a Reconnecting channel.
type Handle struct {
	topic  model.Topic
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status

	dials       atomic.Int64
	opens       atomic.Int64
	reconnects  atomic.Int64
	delivered   atomic.Int64
	parseErrors atomic.Int64
	unknown     atomic.Int64
	lastDelay   atomic.Int64
}

// Topic returns the topic this handle serves.
func (h *Handle) Topic() model.Topic {
	return h.topic
}

// Done is closed once the handle has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status returns a copy of the handle's connection state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Stats returns the handle's counters.
func (h *Handle) Stats() Stats {
	return Stats{
		Dials:               h.dials.Load(),
		Opens:               h.opens.Load(),
		ReconnectsScheduled: h.reconnects.Load(),
		EventsDelivered:     h.delivered.Load(),
		ParseErrors:         h.parseErrors.Load(),
		UnknownEvents:       h.unknown.Load(),
		LastDelay:           time.Duration(h.lastDelay.Load()),
	}
}

func (h *Handle) setState(s State, reason string, now time.Time) {
	h.mu.Lock()
	h.status = Status{State: s, Reason: reason, Since: now}
	h.mu.Unlock()
}
