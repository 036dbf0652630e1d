package duplication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder collects delivered results; block, when set, holds the handler
// until it is closed.
type recorder struct {
	mu      sync.Mutex
	results []CaptureResult
	block   chan struct{}
	entered chan struct{}
}

func newRecorder() *recorder {
	return &recorder{entered: make(chan struct{}, 64)}
}

func (r *recorder) handle(res CaptureResult) {
	r.entered <- struct{}{}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recorder) all() []CaptureResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CaptureResult(nil), r.results...)
}

func frameResult(w int) CaptureResult {
	return successResult(&Frame{Data: make([]byte, w*4), Width: w, Height: 1})
}

func waitDone(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("dispatcher did not finish: %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{"": PolicyLatest, "latest": PolicyLatest, "skip": PolicyLatest, "QUEUE": PolicyQueue}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("drop-oldest"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestDispatcherQueueKeepsEveryResultInOrder(t *testing.T) {
	rec := newRecorder()
	rec.block = make(chan struct{})
	m := NewStreamMetrics()
	d := NewDispatcher(PolicyQueue, rec.handle, m)

	for w := 1; w <= 5; w++ {
		d.Deliver(frameResult(w))
	}
	<-rec.entered
	close(rec.block)
	d.Close(false)
	waitDone(t, d)

	got := rec.all()
	if len(got) != 5 {
		t.Fatalf("delivered %d results, want 5", len(got))
	}
	for i, r := range got {
		if r.Frame.Width != i+1 {
			t.Fatalf("result %d has width %d, want %d", i, r.Frame.Width, i+1)
		}
	}
	if s := m.Snapshot(); s.FramesDropped != 0 || s.FramesDelivered != 5 || s.PeakQueueDepth < 4 {
		t.Fatalf("unexpected metrics %+v", s)
	}
}

func TestDispatcherLatestReplacesPending(t *testing.T) {
	rec := newRecorder()
	rec.block = make(chan struct{})
	m := NewStreamMetrics()
	d := NewDispatcher(PolicyLatest, rec.handle, m)

	d.Deliver(frameResult(1))
	<-rec.entered // consumer is busy with 1
	var dropped []*Frame
	for w := 2; w <= 5; w++ {
		res := frameResult(w)
		if w < 5 {
			dropped = append(dropped, res.Frame)
		}
		d.Deliver(res)
	}
	close(rec.block)
	d.Close(false)
	waitDone(t, d)

	got := rec.all()
	if len(got) != 2 || got[0].Frame.Width != 1 || got[1].Frame.Width != 5 {
		t.Fatalf("unexpected deliveries %+v", got)
	}
	for _, f := range dropped {
		if f.Data != nil {
			t.Fatal("replaced frame was not released")
		}
	}
	if s := m.Snapshot(); s.FramesDropped != 3 {
		t.Fatalf("FramesDropped = %d, want 3", s.FramesDropped)
	}
}

func TestDispatcherTerminalIsLast(t *testing.T) {
	for _, policy := range []Policy{PolicyLatest, PolicyQueue} {
		t.Run(policy.String(), func(t *testing.T) {
			rec := newRecorder()
			rec.block = make(chan struct{})
			d := NewDispatcher(policy, rec.handle, nil)

			d.Deliver(frameResult(1))
			<-rec.entered
			d.Deliver(frameResult(2))
			d.Terminate(CaptureResult{Status: StatusAccessLost, Err: errors.New("reinit failed")})
			late := frameResult(3)
			d.Deliver(late)
			close(rec.block)
			waitDone(t, d)

			got := rec.all()
			if len(got) != 3 {
				t.Fatalf("delivered %d results, want 3", len(got))
			}
			last := got[len(got)-1]
			if !last.Terminal || last.Status != StatusAccessLost {
				t.Fatalf("last result %+v is not the terminal notification", last)
			}
			if late.Frame.Data != nil {
				t.Fatal("frame delivered after terminate was not released")
			}
		})
	}
}

func TestDispatcherCloseDiscardDropsBacklog(t *testing.T) {
	rec := newRecorder()
	rec.block = make(chan struct{})
	d := NewDispatcher(PolicyQueue, rec.handle, nil)

	d.Deliver(frameResult(1))
	<-rec.entered
	queued := []CaptureResult{frameResult(2), frameResult(3)}
	for _, r := range queued {
		d.Deliver(r)
	}
	d.Close(true)
	close(rec.block)
	waitDone(t, d)

	if got := rec.all(); len(got) != 1 {
		t.Fatalf("delivered %d results, want only the in-flight one", len(got))
	}
	for _, r := range queued {
		if r.Frame.Data != nil {
			t.Fatal("discarded frame was not released")
		}
	}
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	calls := 0
	d := NewDispatcher(PolicyQueue, func(CaptureResult) {
		calls++
		if calls == 1 {
			panic("consumer bug")
		}
	}, nil)
	d.Deliver(frameResult(1))
	d.Deliver(frameResult(2))
	d.Close(false)
	waitDone(t, d)
	if calls != 2 {
		t.Fatalf("handler called %d times, want 2", calls)
	}
}
