package xawala

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ObserverPool manages asynchronous event dispatching to observers.
// Slow observers never block the send/receive path: events are dropped when the buffer is full.
type ObserverPool struct {
	eventCh   chan *LifecycleEvent
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// NewObserverPool creates a pool for async observer notification.
// workers: number of concurrent observer dispatch goroutines (4-16 for typical use)
// bufferSize: capacity of event channel (1000-5000 for burst resilience)
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		eventCh: make(chan *LifecycleEvent, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.worker()
	}

	return op
}

// Notify queues an event for asynchronous dispatch to observers.
// observers is copied at send time.
func (op *ObserverPool) Notify(e LifecycleEvent, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}

	e.observers = make([]Observer, len(observers))
	copy(e.observers, observers)

	select {
	case op.eventCh <- &e:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case <-op.ctx.Done():
			// Drain remaining events before exiting
			for {
				select {
				case e := <-op.eventCh:
					if e != nil {
						op.dispatchEvent(e)
						op.processed.Add(1)
					}
				default:
					return
				}
			}
		case e := <-op.eventCh:
			if e != nil {
				op.dispatchEvent(e)
				op.processed.Add(1)
			}
		}
	}
}

// dispatchEvent calls all observers for a single event, tolerating observer panics.
func (op *ObserverPool) dispatchEvent(e *LifecycleEvent) {
	for _, obs := range e.observers {
		if obs == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			obs.OnEvent(*e)
		}()
	}
}

// Close stops the workers, waiting up to timeout for queued events to be dispatched.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}

	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.eventCh),
		Workers:      op.workers,
		BufferSize:   cap(op.eventCh),
	}
}
