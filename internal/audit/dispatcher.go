package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// dropLogEvery throttles the overflow warning to one entry per this many
// dropped events.
const dropLogEvery = 1000

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; overflow is counted in Dropped.
	DropIfFull bool
	// Logger reports overflow and sink panics. Defaults to zap.NewNop.
	Logger *zap.Logger
}

// Dispatcher relays events to one sink from a single worker goroutine, so
// the sink sees events in emission order and never runs concurrently.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stop       chan struct{}
	stopped    sync.WaitGroup
	stopOnce   sync.Once
	closing    atomic.Bool
	dropIfFull bool
	log        *zap.Logger

	dropped   atomic.Uint64
	delivered atomic.Uint64
	panicked  atomic.Uint64
}

// NewDispatcher returns nil when cfg.Enabled is false; a nil Dispatcher is
// a valid no-op.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, size),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
		log:        log,
	}
	d.stopped.Add(1)
	go d.work()
	return d
}

func (d *Dispatcher) work() {
	defer d.stopped.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			// Flush whatever was queued before Close.
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver hands event to the sink. A panicking sink loses that one event
// but keeps the worker alive.
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			d.log.Error("audit sink panicked",
				zap.String("event_type", event.EventType),
				zap.Any("panic", r),
			)
		}
	}()
	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

func (d *Dispatcher) drop(event Event) {
	n := d.dropped.Add(1)
	if n == 1 || n%dropLogEvery == 0 {
		d.log.Warn("audit buffer full, dropping events",
			zap.String("event_type", event.EventType),
			zap.Uint64("dropped_total", n),
		)
	}
}

// Emit queues event. After Close it is a no-op. In blocking mode a
// cancelled ctx counts the event as dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-d.stop:
	case <-ctx.Done():
		d.drop(event)
	}
}

// Close flushes queued events and stops the worker. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.stopped.Wait()
	})
}

// Dropped counts events lost to a full buffer or a cancelled context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Panicked counts events whose sink call panicked.
func (d *Dispatcher) Panicked() uint64 {
	if d == nil {
		return 0
	}
	return d.panicked.Load()
}
