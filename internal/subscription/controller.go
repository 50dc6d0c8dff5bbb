package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/session-monitor/internal/connection"
	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/router"
)

// Errors
var (
	ErrNotActive        = errors.New("no active topic")
	ErrUnexpectedResult = errors.New("unexpected hydration result type")
)

// Hydrator pulls the full value of a topic.
type Hydrator interface {
	Fetch(ctx context.Context, topic model.Topic) (any, error)
}

// Channel is the push side: one reconnecting subscription at a time.
type Channel interface {
	Start(ctx context.Context, topic model.Topic, handler connection.Handler) *connection.Handle
	Stop(h *connection.Handle)
}

// Recorder receives every applied change.
type Recorder interface {
	Record(obs model.Observation) bool
}

// Config holds controller configuration.
type Config struct {
	ResyncInterval time.Duration // Periodic re-hydration (0 = off)
	FetchTimeout   time.Duration // Per-hydration timeout (0 = none)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for resync ticks and store timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRecorder mirrors every applied change to rec.
func WithRecorder(rec Recorder) Option {
	return func(c *Controller) {
		c.recorder = rec
	}
}

// Controller manages the active topic.
type Controller struct {
	cfg      Config
	hydrator Hydrator
	channel  Channel
	logger   *slog.Logger
	clock    clockwork.Clock
	recorder Recorder

	observerID uuid.UUID

	// opMu serializes Activate and Deactivate.
	opMu       sync.Mutex
	mu         sync.Mutex
	active     *activation
	generation uint64
}

// NewController creates a Controller.
func NewController(cfg Config, hydrator Hydrator, channel Channel, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		cfg:        cfg,
		hydrator:   hydrator,
		channel:    channel,
		logger:     logger,
		clock:      clockwork.NewRealClock(),
		observerID: uuid.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// activation is everything owned by one Activate call.
type activation struct {
	gen    uint64
	topic  model.Topic
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	store  topicStore
	handle *connection.Handle
	obs    *Observable

	unsubscribe func()
	wg          sync.WaitGroup
}

// Activate makes topic the active subscription, replacing any previous one.
// It returns immediately; the initial value arrives through the Observable.
func (c *Controller) Activate(ctx context.Context, topic model.Topic) (*Observable, error) {
	if err := topic.Validate(); err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.deactivate()

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	actx, cancel := context.WithCancel(ctx)
	a := &activation{
		gen:    gen,
		topic:  topic,
		ctx:    actx,
		cancel: cancel,
		logger: c.logger.With("topic", topic.String()),
		store:  newTopicStore(topic, c.clock),
	}
	a.obs = newObservable(topic, func() View { return c.viewOf(a) })

	updates, unsubscribe := a.store.subscribe()
	a.unsubscribe = unsubscribe

	a.handle = c.channel.Start(a.ctx, topic, func(ev router.Event) {
		if a.store.applyEvent(ev) {
			a.logger.Debug("event applied", "type", ev.Kind())
		}
	})

	c.mu.Lock()
	c.active = a
	c.mu.Unlock()

	a.wg.Add(1)
	go c.publishLoop(a, updates)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		c.hydrate(a.ctx, a)
	}()

	if c.cfg.ResyncInterval > 0 {
		a.wg.Add(1)
		go c.resyncLoop(a)
	}

	a.logger.Info("topic activated", "generation", a.gen)

	return a.obs, nil
}

// Deactivate stops the active topic, if any, and discards its store.
func (c *Controller) Deactivate() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.deactivate()
}

func (c *Controller) deactivate() {
	c.mu.Lock()
	a := c.active
	c.active = nil
	c.mu.Unlock()

	if a == nil {
		return
	}

	a.cancel()
	c.channel.Stop(a.handle)
	a.unsubscribe()
	a.wg.Wait()
	a.obs.close()

	a.logger.Info("topic deactivated", "generation", a.gen)
}

// Active returns the Observable of the active topic.
func (c *Controller) Active() (*Observable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, false
	}
	return c.active.obs, true
}

// Refresh re-runs hydration for the active topic and waits for the result.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	a := c.active
	c.mu.Unlock()
	if a == nil {
		return ErrNotActive
	}

	// Stop when either the caller or the activation goes away.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	return c.hydrate(ctx, a)
}

// hydrate fetches the topic value and applies it if a is still active.
func (c *Controller) hydrate(ctx context.Context, a *activation) error {
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}

	v, err := c.hydrator.Fetch(ctx, a.topic)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.gen != a.gen || a.ctx.Err() != nil {
		a.logger.Debug("discarding hydration for inactive topic", "generation", a.gen)
		return ErrNotActive
	}

	if err != nil {
		a.logger.Warn("hydration failed", "error", err)
		a.store.applyHydrationError(err)
		return err
	}

	if err := a.store.applyHydration(v); err != nil {
		a.logger.Warn("hydration result rejected", "error", err)
		a.store.applyHydrationError(err)
		return err
	}

	a.logger.Debug("hydration applied")
	return nil
}

// publishLoop forwards store changes to the Observable and the recorder.
func (c *Controller) publishLoop(a *activation, updates <-chan View) {
	defer a.wg.Done()

	for v := range updates {
		v.Connection = a.handle.Status()
		a.obs.publish(v)

		if c.recorder != nil {
			obs := model.Observation{
				ID:         uuid.New(),
				ObserverID: c.observerID,
				Topic:      v.TopicName,
				Status:     v.Status.String(),
				Version:    v.Version,
				Payload:    v.Payload(),
				ObservedAt: v.UpdatedAt,
			}
			if !c.recorder.Record(obs) {
				a.logger.Debug("recorder rejected observation", "version", v.Version)
			}
		}
	}
}

func (c *Controller) viewOf(a *activation) View {
	v := a.store.view()
	v.Connection = a.handle.Status()
	return v
}
