package duplication

import (
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/breeze-rmm/deskdup/internal/logging"
)

// schedulingOverhead is subtracted from the inter-iteration sleep to absorb
// timer and goroutine wake-up latency.
const schedulingOverhead = time.Millisecond

// captureLoop is one run of auto-capture. It owns the acquirer for its
// lifetime; all duplication calls happen on its locked OS thread.
type captureLoop struct {
	device     *CaptureDevice
	acquirer   *FrameAcquirer
	dispatcher *Dispatcher
	metrics    *StreamMetrics
	interval   time.Duration
	log        *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func newCaptureLoop(dev *CaptureDevice, acq *FrameAcquirer, disp *Dispatcher, metrics *StreamMetrics, interval time.Duration) *captureLoop {
	return &captureLoop{
		device:     dev,
		acquirer:   acq,
		dispatcher: disp,
		metrics:    metrics,
		interval:   interval,
		log:        logging.WithOutput(logging.L("autocapture"), dev.OutputIndex()),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (l *captureLoop) start() {
	go l.run()
}

// signalStop asks the loop to exit after its current iteration.
func (l *captureLoop) signalStop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

func (l *captureLoop) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *captureLoop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// The loop reports stopped before the terminal notification goes out so
	// a consumer reacting to it already sees the session idle. Closing
	// without discard lets queued results drain; StopAutoCapture sets
	// discard itself when the backlog should go.
	var terminal *CaptureResult
	defer func() {
		if terminal != nil {
			l.dispatcher.Terminate(*terminal)
		}
		l.dispatcher.Close(false)
	}()
	defer close(l.done)

	l.log.Info("auto capture started", "intervalMs", l.interval.Milliseconds())
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			l.log.Info("auto capture stopped")
			return
		default:
		}

		start := time.Now()
		res := l.acquirer.Acquire(l.interval)
		l.metrics.RecordAcquire(time.Since(start), res.Status)

		switch res.Status {
		case StatusSuccess, StatusError:
			if res.Status == StatusError {
				l.log.Warn("capture attempt failed", logging.KeyError, res.Err)
			}
			l.dispatcher.Deliver(res)
		case StatusAccessLost:
			if err := l.reinit(); err != nil {
				if !errors.Is(err, errLoopStopping) {
					terminal = &CaptureResult{Status: StatusAccessLost, Err: err}
				}
				return
			}
		case StatusTimeout:
		}

		wait := l.interval - time.Since(start) - schedulingOverhead
		if wait <= 0 {
			continue
		}
		timer.Reset(wait)
		select {
		case <-l.stop:
			if !timer.Stop() {
				<-timer.C
			}
			l.log.Info("auto capture stopped")
			return
		case <-timer.C:
		}
	}
}

var errLoopStopping = errors.New("auto capture stopping")

// reinit re-creates the duplication after access loss. A non-nil error ends
// the loop.
func (l *captureLoop) reinit() error {
	select {
	case <-l.stop:
		return errLoopStopping
	default:
	}
	if err := l.device.Initialize(l.device.OutputIndex()); err != nil {
		l.log.Error("reinitialize after access loss failed, stopping auto capture", logging.KeyError, err)
		return err
	}
	l.metrics.RecordReinit()
	l.log.Info("duplication reinitialized after access loss")
	return nil
}
