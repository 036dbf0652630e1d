package duplication

import (
	"errors"
	"fmt"
)

// InitErrorKind identifies the initialization step that failed.
type InitErrorKind string

const (
	KindDevice      InitErrorKind = "device"
	KindAdapter     InitErrorKind = "adapter"
	KindOutput      InitErrorKind = "output"
	KindGeometry    InitErrorKind = "geometry"
	KindDuplication InitErrorKind = "duplication"
	KindUnavailable InitErrorKind = "unavailable"
	KindUnsupported InitErrorKind = "unsupported"
)

// InitError is returned by CaptureDevice.Initialize.
type InitError struct {
	Kind   InitErrorKind
	Output int
	Err    error
}

func (e *InitError) Error() string {
	switch e.Kind {
	case KindDevice:
		return fmt.Sprintf("failed to create device: %v", e.Err)
	case KindAdapter:
		return fmt.Sprintf("failed to get DXGI adapter: %v", e.Err)
	case KindOutput:
		return fmt.Sprintf("failed to get output %d: %v", e.Output, e.Err)
	case KindGeometry:
		return fmt.Sprintf("failed to read geometry of output %d: %v", e.Output, e.Err)
	case KindUnavailable:
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *InitError) Unwrap() error { return e.Err }

// Retryable reports whether calling Initialize again may succeed without
// external action.
func (e *InitError) Retryable() bool {
	return e.Kind != KindUnavailable && e.Kind != KindUnsupported
}

// IsRetryable reports whether err is an initialization failure that may be
// retried. Errors that are not InitErrors are treated as retryable.
func IsRetryable(err error) bool {
	var ie *InitError
	if errors.As(err, &ie) {
		return ie.Retryable()
	}
	return err != nil
}

var (
	// ErrNotInitialized is returned when capturing before Initialize succeeded.
	ErrNotInitialized = errors.New("capture device not initialized")

	// ErrAutoCaptureRunning is returned by synchronous calls made while the
	// auto-capture loop owns the device.
	ErrAutoCaptureRunning = errors.New("auto capture running")

	// ErrTimeoutReached is returned by GetFrame when every attempt timed out.
	ErrTimeoutReached = errors.New("timeout reached")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)
