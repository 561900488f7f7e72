package shopGuard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// queuedEvent keeps the emitter's context values (request id, client IP)
// without its cancellation, so a sink still sees them after the request ends.
type queuedEvent struct {
	ctx   context.Context
	event AuditEvent
}

// auditDispatcher hands gate events to the sink on one background worker so
// request handlers never wait on audit I/O.
type auditDispatcher struct {
	sink       AuditSink
	dropIfFull bool
	now        func() time.Time

	queue   chan queuedEvent
	stop    context.Context
	cancel  context.CancelFunc
	dropped atomic.Uint64

	// mu guards closing queue against concurrent sends.
	mu     sync.RWMutex
	closed bool
	worker sync.WaitGroup
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	stop, cancel := context.WithCancel(context.Background())
	d := &auditDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		now:        time.Now,
		queue:      make(chan queuedEvent, max(cfg.BufferSize, 1)),
		stop:       stop,
		cancel:     cancel,
	}

	d.worker.Add(1)
	go func() {
		defer d.worker.Done()
		for q := range d.queue {
			d.sink.Emit(q.ctx, q.event)
		}
	}()
	return d
}

// Emit queues event. With DropIfFull a full queue drops and counts the
// event; otherwise Emit waits for room until ctx ends or the gate closes.
// Events emitted after Close are discarded.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now()
	}
	q := queuedEvent{ctx: context.WithoutCancel(ctx), event: event}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- q:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- q:
	case <-ctx.Done():
	case <-d.stop.Done():
	}
}

// Close refuses further events, releases blocked emitters and waits until
// everything already queued has reached the sink. It is safe to call twice.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.worker.Wait()
}

// Dropped counts events lost to a full queue.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
