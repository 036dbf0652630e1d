package duplication

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/breeze-rmm/deskdup/internal/logging"
)

// diagLogInterval controls how often repeated timeouts are logged.
const diagLogInterval = 100

// FrameAcquirer drives single capture attempts against a CaptureDevice:
// acquire, copy to staging, map, convert, release.
type FrameAcquirer struct {
	dev *CaptureDevice
	log *slog.Logger

	// Staging surface reused across frames while the device generation and
	// the incoming surface description stay the same. Guarded by dev.mu.
	staging     Surface
	stagingDesc SurfaceDesc
	stagingGen  uint64

	stagingAllocs uint64
	diagTimeouts  int
	diagFrames    int
}

// NewFrameAcquirer creates an acquirer bound to dev.
func NewFrameAcquirer(dev *CaptureDevice) *FrameAcquirer {
	return &FrameAcquirer{dev: dev, log: logging.L("acquirer")}
}

// Acquire waits up to timeout for the next desktop frame.
//
// Timeout and AccessLost results leave no state behind. A frame that was
// acquired is always released exactly once, whatever happens after.
func (a *FrameAcquirer) Acquire(timeout time.Duration) CaptureResult {
	d := a.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.inited {
		return errorResult(ErrNotInitialized)
	}
	if d.frameHeld {
		a.releaseFrameLocked()
	}

	tex, _, err := d.duplication.AcquireNextFrame(timeout)
	switch {
	case errors.Is(err, ErrWaitTimeout):
		a.diagTimeouts++
		if a.diagTimeouts == 1 || a.diagTimeouts%diagLogInterval == 0 {
			a.log.Debug("no frame within timeout",
				logging.KeyOutput, d.output,
				"timeouts", a.diagTimeouts,
				"frames", a.diagFrames,
			)
		}
		return timeoutResult()
	case errors.Is(err, ErrAccessLost):
		a.log.Info("duplication access lost", logging.KeyOutput, d.output)
		return accessLostResult()
	case err != nil:
		return errorResult(fmt.Errorf("failed to acquire next frame: %w", err))
	}

	d.frameHeld = true
	defer func() {
		tex.Release()
		a.releaseFrameLocked()
	}()

	frame, err := a.readLocked(tex)
	if err != nil {
		return errorResult(err)
	}
	a.diagFrames++
	return successResult(frame)
}

// readLocked copies tex into the staging surface and converts it to RGBA.
func (a *FrameAcquirer) readLocked(tex Surface) (*Frame, error) {
	dev := a.dev.device
	desc := tex.Desc()

	staging, err := a.stagingLocked(desc)
	if err != nil {
		return nil, err
	}
	if err := dev.CopyResource(staging, tex); err != nil {
		return nil, fmt.Errorf("failed to copy frame to staging surface: %w", err)
	}

	mapped, err := dev.Map(staging)
	if err != nil {
		return nil, fmt.Errorf("failed to map staging surface: %w", err)
	}
	defer dev.Unmap(staging)

	data, err := ConvertToRGBA(mapped.Data, desc.Width, desc.Height, mapped.RowPitch, desc.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return &Frame{Data: data, Width: desc.Width, Height: desc.Height}, nil
}

// stagingLocked returns a staging surface matching desc, creating it only
// when none exists, the description changed, or the device was replaced.
func (a *FrameAcquirer) stagingLocked(desc SurfaceDesc) (Surface, error) {
	if a.staging != nil && a.stagingGen == a.dev.generation && a.stagingDesc == desc {
		return a.staging, nil
	}
	a.releaseStagingLocked()

	s, err := a.dev.device.CreateStaging(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging surface %dx%d %s: %w", desc.Width, desc.Height, desc.Format, err)
	}
	a.staging = s
	a.stagingDesc = desc
	a.stagingGen = a.dev.generation
	a.stagingAllocs++
	a.log.Debug("staging surface created",
		"width", desc.Width,
		"height", desc.Height,
		"format", desc.Format.String(),
		"generation", a.stagingGen,
	)
	return s, nil
}

func (a *FrameAcquirer) releaseFrameLocked() {
	d := a.dev
	if !d.frameHeld || d.duplication == nil {
		d.frameHeld = false
		return
	}
	if err := d.duplication.ReleaseFrame(); err != nil {
		a.log.Debug("release frame failed", logging.KeyOutput, d.output, logging.KeyError, err)
	}
	d.frameHeld = false
}

func (a *FrameAcquirer) releaseStagingLocked() {
	if a.staging != nil {
		a.staging.Release()
		a.staging = nil
	}
	a.stagingDesc = SurfaceDesc{}
}

// Close releases the staging surface.
func (a *FrameAcquirer) Close() {
	a.dev.mu.Lock()
	defer a.dev.mu.Unlock()
	a.releaseStagingLocked()
}

// StagingAllocations returns how many staging surfaces have been created.
func (a *FrameAcquirer) StagingAllocations() uint64 {
	a.dev.mu.Lock()
	defer a.dev.mu.Unlock()
	return a.stagingAllocs
}
