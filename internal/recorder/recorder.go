package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/session-monitor/internal/model"
)

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds recorder configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits before being written
	QueueSize     int           // Initial queue capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		QueueSize:     256,
	}
}

// Metrics tracks recorder activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64 // Observations offered after Stop
}

// Recorder batches observations into the observations table.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	db     BatchSender
	clock  clockwork.Clock

	queue *Queue[model.Observation]

	batch   []model.Observation
	batchMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	metrics Metrics
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the clock that drives periodic flushes.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New creates a Recorder.
func New(cfg Config, db BatchSender, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	r := &Recorder{
		cfg:    cfg,
		logger: logger,
		db:     db,
		clock:  clockwork.NewRealClock(),
		queue:  NewQueue[model.Observation](cfg.QueueSize),
		stop:   make(chan struct{}),
		batch:  make([]model.Observation, 0, cfg.BatchSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record queues an observation. It never blocks; it returns false after Stop.
func (r *Recorder) Record(obs model.Observation) bool {
	if r.queue.Push(obs) {
		return true
	}
	r.batchMu.Lock()
	r.metrics.Dropped++
	r.batchMu.Unlock()
	return false
}

// Start begins consuming observations and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	// Inserts must outlive the caller's cancellation long enough for the
	// final flush in Stop.
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop(ctx)

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the queue, writes what is left and shuts down.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.queue.Close()
	r.stopOnce.Do(func() { close(r.stop) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	r.flush()

	if r.cancel != nil {
		r.cancel()
	}

	r.logger.Info("recorder stopped", "inserts", r.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// consumeLoop moves observations from the queue into the batch until the
// queue is closed and empty.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		obs, ok := r.queue.Receive()
		if !ok {
			return
		}

		r.batchMu.Lock()
		r.batch = append(r.batch, obs)
		shouldFlush := len(r.batch) >= r.cfg.BatchSize
		r.batchMu.Unlock()

		if shouldFlush {
			r.flush()
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.Chan():
			r.flush()
		}
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]model.Observation, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed observations",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

const insertObservation = `
	INSERT INTO observations (id, observer_id, topic, status, version, payload, observed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING
`

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(rows []model.Observation) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, o := range rows {
		var payload any
		if len(o.Payload) > 0 {
			payload = string(o.Payload)
		}
		batch.Queue(insertObservation,
			o.ID, o.ObserverID, o.Topic, o.Status, int64(o.Version), payload, o.ObservedAt)
	}

	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
