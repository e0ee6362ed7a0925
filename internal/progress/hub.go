package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes how the Hub groups milestones before handing them to sinks.
// Zero values fall back to package defaults.
type Config struct {
	// BufferSize bounds milestones waiting for the batching goroutine.
	BufferSize int
	// MaxBatch hands a batch to sinks as soon as it holds this many milestones.
	MaxBatch int
	// MaxBatchWait hands over a partial batch once its oldest milestone is this old.
	MaxBatchWait time.Duration
	// SinkTimeout caps each Consume call.
	SinkTimeout time.Duration
	// BaseContext parents every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize   = 4096
	defaultMaxBatch     = 1000
	defaultMaxBatchWait = 500 * time.Millisecond
	defaultSinkTimeout  = 10 * time.Second
	dropWarnInterval    = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = defaultMaxBatch
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects job lifecycle milestones (start, region done, result, done,
// error) and delivers them to sinks in batches from a single goroutine.
// Emit is safe for concurrent jobs and never waits on a sink.
type Hub struct {
	cfg     Config
	sinks   []Sink
	in      chan Milestone
	quit    chan struct{}
	done    chan struct{}
	log     *zap.Logger
	warn    rate.Sometimes
	dropped atomic.Int64
	closing atomic.Bool

	stopOnce sync.Once
	stopCtx  context.Context
}

// NewHub starts the delivery goroutine for the given sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:   cfg,
		sinks: append([]Sink(nil), sinks...),
		in:    make(chan Milestone, cfg.BufferSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   cfg.Logger,
		warn:  rate.Sometimes{Interval: dropWarnInterval},
	}
	go h.deliver()
	return h
}

// Emit queues m for delivery. Invalid milestones are discarded. When the
// buffer is full m is dropped and counted.
func (h *Hub) Emit(m Milestone) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := m.Validate(); err != nil {
		h.log.Debug("discarding invalid milestone", zap.String("job_id", m.JobID), zap.Error(err))
		return
	}
	select {
	case h.in <- m:
	default:
		total := h.dropped.Add(1)
		h.warn.Do(func() {
			h.log.Warn("milestone buffer full, dropping",
				zap.String("job_id", m.JobID),
				zap.String("stage", string(m.Stage)),
				zap.Int64("dropped_total", total))
		})
	}
}

// Dropped reports how many milestones were lost to a full buffer.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops intake, delivers whatever is still queued, closes the sinks and
// waits for the delivery goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closing.Store(true)
		h.stopCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close milestone hub: %w", ctx.Err())
	}
}

// deliver owns the pending batch. The flush timer runs only while the batch
// is non-empty.
func (h *Hub) deliver() {
	defer close(h.done)
	pending := make([]Milestone, 0, h.cfg.MaxBatch)
	var (
		timer *time.Timer
		due   <-chan time.Time
	)
	handOff := func() {
		if timer != nil {
			timer.Stop()
			timer, due = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		h.consume(pending)
		pending = pending[:0]
	}
	add := func(m Milestone) {
		pending = append(pending, m)
		if len(pending) >= h.cfg.MaxBatch {
			handOff()
			return
		}
		if timer == nil {
			timer = time.NewTimer(h.cfg.MaxBatchWait)
			due = timer.C
		}
	}

	for {
		select {
		case m := <-h.in:
			add(m)
		case <-due:
			timer, due = nil, nil
			handOff()
		case <-h.quit:
			for {
				select {
				case m := <-h.in:
					add(m)
				default:
					handOff()
					h.closeSinks()
					return
				}
			}
		}
	}
}

// consume hands a copy of batch to each sink under its own timeout. Sink
// errors are logged and never stop delivery.
func (h *Hub) consume(batch []Milestone) {
	snapshot := append([]Milestone(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, snapshot)
		cancel()
		if err != nil {
			h.log.Warn("milestone sink failed", zap.Int("batch", len(snapshot)), zap.Error(err))
		}
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(h.stopCtx); err != nil {
			h.log.Warn("milestone sink close failed", zap.Error(err))
		}
	}
}
