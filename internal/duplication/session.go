package duplication

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultFrameTimeout bounds each attempt made by GetFrame.
	DefaultFrameTimeout = time.Second
	// DefaultInterval is used when StartAutoCapture gets a non-positive interval.
	DefaultInterval = 100 * time.Millisecond
	// DefaultGetFrameRetries matches the retry count of the blocking helpers.
	DefaultGetFrameRetries = 5
)

// Session is the capture facade for one output: synchronous acquisition plus
// an optional background auto-capture loop. The loop and synchronous calls
// never touch the device at the same time.
type Session struct {
	device   *CaptureDevice
	acquirer *FrameAcquirer
	metrics  *StreamMetrics
	log      *slog.Logger

	frameTimeout time.Duration

	mu         sync.Mutex
	loop       *captureLoop
	dispatcher *Dispatcher
	closed     bool
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	platform     Platform
	logger       *slog.Logger
	frameTimeout time.Duration
}

// WithPlatform selects the capture platform. The default is NewPlatform("auto").
func WithPlatform(p Platform) Option {
	return func(o *sessionOptions) { o.platform = p }
}

// WithLogger overrides the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// WithFrameTimeout sets the per-attempt timeout used by GetFrame.
func WithFrameTimeout(d time.Duration) Option {
	return func(o *sessionOptions) {
		if d > 0 {
			o.frameTimeout = d
		}
	}
}

// New creates an uninitialized session.
func New(opts ...Option) *Session {
	o := sessionOptions{frameTimeout: DefaultFrameTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.platform == nil {
		// auto never fails
		o.platform, _ = NewPlatform(BackendAuto)
	}
	if o.logger == nil {
		o.logger = log
	}
	dev := NewCaptureDevice(o.platform)
	dev.log = o.logger
	acq := NewFrameAcquirer(dev)
	return &Session{
		device:       dev,
		acquirer:     acq,
		metrics:      NewStreamMetrics(),
		log:          o.logger.With("backend", o.platform.Name()),
		frameTimeout: o.frameTimeout,
	}
}

// Initialize binds the session to an output. It may be called repeatedly;
// each call releases everything held by the previous one.
func (s *Session) Initialize(outputIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.runningLocked() {
		return ErrAutoCaptureRunning
	}
	return s.device.Initialize(outputIndex)
}

// AcquireFrame makes one capture attempt waiting up to timeout.
func (s *Session) AcquireFrame(timeout time.Duration) CaptureResult {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return errorResult(ErrClosed)
	case s.runningLocked():
		s.mu.Unlock()
		return errorResult(ErrAutoCaptureRunning)
	}
	s.mu.Unlock()

	start := time.Now()
	res := s.acquirer.Acquire(timeout)
	s.metrics.RecordAcquire(time.Since(start), res.Status)
	return res
}

// GetFrame returns the next frame, retrying up to retries times. Timeouts are
// retried, access loss re-initializes the session before retrying, and a
// frame whose first two pixels are all zero is treated as not yet painted
// while retries remain.
func (s *Session) GetFrame(ctx context.Context, retries int) (*Frame, error) {
	for attempt := retries; ; attempt-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := s.AcquireFrame(s.frameTimeout)
		switch res.Status {
		case StatusError:
			return nil, res.Err
		case StatusTimeout:
			if attempt <= 0 {
				return nil, ErrTimeoutReached
			}
		case StatusAccessLost:
			if attempt <= 0 {
				return nil, ErrAccessLost
			}
			if err := s.Initialize(s.device.OutputIndex()); err != nil {
				return nil, fmt.Errorf("reinitialize after access loss: %w", err)
			}
			s.metrics.RecordReinit()
		case StatusSuccess:
			if attempt > 0 && blankPrefix(res.Frame.Data) {
				s.log.Debug("frame not painted yet, retrying", "retriesLeft", attempt)
				res.Frame.Release()
				continue
			}
			return res.Frame, nil
		}
	}
}

// FrameOrError is the value sent by GetFrameAsync.
type FrameOrError struct {
	Frame *Frame
	Err   error
}

// GetFrameAsync runs GetFrame on its own goroutine. The channel receives
// exactly one value and is then closed.
func (s *Session) GetFrameAsync(ctx context.Context, retries int) <-chan FrameOrError {
	ch := make(chan FrameOrError, 1)
	go func() {
		defer close(ch)
		f, err := s.GetFrame(ctx, retries)
		ch <- FrameOrError{Frame: f, Err: err}
	}()
	return ch
}

func blankPrefix(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	for _, b := range data[:8] {
		if b != 0 {
			return false
		}
	}
	return true
}

// StartAutoCapture starts the background loop, delivering results to onFrame
// on a separate goroutine. It returns false if a loop is already running.
func (s *Session) StartAutoCapture(interval time.Duration, policy Policy, onFrame FrameHandler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.runningLocked() {
		return false
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if onFrame == nil {
		onFrame = func(res CaptureResult) { res.Frame.Release() }
	}
	if !s.device.Initialized() {
		s.log.Warn("auto capture started before initialize, attempts will fail until it succeeds")
	}

	s.dispatcher = NewDispatcher(policy, onFrame, s.metrics)
	s.loop = newCaptureLoop(s.device, s.acquirer, s.dispatcher, s.metrics, interval)
	s.loop.start()
	s.log.Info("auto capture requested", "intervalMs", interval.Milliseconds(), "policy", policy.String())
	return true
}

// StopAutoCapture stops the loop and blocks until its goroutine has exited.
// It returns false if no loop was running. With clearBacklog set, results
// still queued for the consumer are discarded; otherwise they keep draining.
func (s *Session) StopAutoCapture(clearBacklog bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(clearBacklog)
}

func (s *Session) stopLocked(clearBacklog bool) bool {
	if !s.runningLocked() {
		return false
	}
	if clearBacklog {
		s.dispatcher.Close(true)
	}
	s.loop.signalStop()
	<-s.loop.done
	return true
}

// WaitDelivery blocks until the consumer of the most recent loop has
// received its last result, or ctx is done.
func (s *Session) WaitDelivery(ctx context.Context) error {
	s.mu.Lock()
	d := s.dispatcher
	s.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Wait(ctx)
}

// Running reports whether the auto-capture loop is active. A loop that
// stopped itself after an unrecoverable access loss is not running.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Session) runningLocked() bool {
	return s.loop != nil && !s.loop.stopped()
}

// Geometry returns the desktop bounds of the bound output.
func (s *Session) Geometry() (image.Rectangle, bool) {
	return s.device.Bounds()
}

// Output returns the description of the bound output.
func (s *Session) Output() (OutputDesc, bool) {
	return s.device.Desc()
}

// OutputIndex returns the index passed to the last Initialize.
func (s *Session) OutputIndex() int {
	return s.device.OutputIndex()
}

// Metrics returns a snapshot of the session counters.
func (s *Session) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// StagingAllocations returns how many staging surfaces have been created.
func (s *Session) StagingAllocations() uint64 {
	return s.acquirer.StagingAllocations()
}

// Close stops auto capture, discarding any backlog, and releases the device.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked(true)
	s.acquirer.Close()
	s.device.Close()
	s.closed = true
}
