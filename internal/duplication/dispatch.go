package duplication

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/breeze-rmm/deskdup/internal/logging"
)

// Policy selects how frames queue up when the consumer falls behind.
type Policy int

const (
	// PolicyLatest keeps at most one undelivered result; a newer result
	// replaces the pending one and the replaced frame is dropped.
	PolicyLatest Policy = iota

	// PolicyQueue delivers every result in order. The producer never blocks
	// or drops, so a slow consumer grows memory without bound.
	PolicyQueue
)

func (p Policy) String() string {
	switch p {
	case PolicyLatest:
		return "latest"
	case PolicyQueue:
		return "queue"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses "latest" (alias "skip") or "queue".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest", "skip":
		return PolicyLatest, nil
	case "queue", "unbounded":
		return PolicyQueue, nil
	default:
		return PolicyLatest, fmt.Errorf("unknown backpressure policy %q (use latest or queue)", s)
	}
}

// FrameHandler consumes results delivered by the auto-capture loop. It owns
// any Frame it receives.
type FrameHandler func(CaptureResult)

// Dispatcher hands results from the capture goroutine to a consumer running
// on its own goroutine. Deliver never blocks the producer.
type Dispatcher struct {
	policy  Policy
	handler FrameHandler
	metrics *StreamMetrics
	log     *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []CaptureResult
	terminal *CaptureResult
	closed   bool
	discard  bool

	done chan struct{}
}

// NewDispatcher starts the consumer goroutine.
func NewDispatcher(policy Policy, handler FrameHandler, metrics *StreamMetrics) *Dispatcher {
	if metrics == nil {
		metrics = NewStreamMetrics()
	}
	d := &Dispatcher{
		policy:  policy,
		handler: handler,
		metrics: metrics,
		log:     logging.L("dispatcher"),
		done:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.drain()
	return d
}

// Deliver enqueues a result according to the policy. Results delivered after
// Close or Terminate are released and ignored.
func (d *Dispatcher) Deliver(res CaptureResult) {
	d.mu.Lock()
	if d.closed || d.terminal != nil {
		d.mu.Unlock()
		res.Frame.Release()
		return
	}

	if d.policy == PolicyLatest && len(d.queue) > 0 {
		dropped := d.queue[0]
		d.queue[0] = res
		d.mu.Unlock()
		if dropped.Frame != nil {
			dropped.Frame.Release()
			d.metrics.RecordDrop()
		}
		d.cond.Signal()
		return
	}

	d.queue = append(d.queue, res)
	d.metrics.SetQueueDepth(len(d.queue))
	d.mu.Unlock()
	d.cond.Signal()
}

// Terminate enqueues the final notification. It is delivered after any
// queued results, bypasses the policy, and nothing is delivered after it.
func (d *Dispatcher) Terminate(res CaptureResult) {
	res.Terminal = true
	d.mu.Lock()
	if d.terminal != nil {
		d.mu.Unlock()
		return
	}
	d.terminal = &res
	d.mu.Unlock()
	d.cond.Signal()
}

// Close stops accepting results. When discard is true, queued results that
// have not started delivery are dropped; a pending terminal notification is
// still delivered.
func (d *Dispatcher) Close(discard bool) {
	d.mu.Lock()
	d.closed = true
	if discard {
		d.discard = true
	}
	d.mu.Unlock()
	d.cond.Broadcast()
}

// Done is closed once the consumer goroutine has delivered its last result.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the consumer goroutine exits or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && d.terminal == nil && !d.closed {
			d.cond.Wait()
		}
		if d.discard && len(d.queue) > 0 {
			for _, r := range d.queue {
				r.Frame.Release()
			}
			d.queue = nil
		}
		if len(d.queue) > 0 {
			res := d.queue[0]
			d.queue[0] = CaptureResult{}
			d.queue = d.queue[1:]
			d.metrics.SetQueueDepth(len(d.queue))
			d.mu.Unlock()
			d.invoke(res)
			continue
		}
		term := d.terminal
		closed := d.closed
		d.mu.Unlock()

		if term != nil {
			d.invoke(*term)
			return
		}
		if closed {
			return
		}
	}
}

func (d *Dispatcher) invoke(res CaptureResult) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("frame handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if res.Status == StatusSuccess {
		d.metrics.RecordDelivery()
	}
	d.handler(res)
}
