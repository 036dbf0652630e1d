package duplication

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/breeze-rmm/deskdup/internal/logging"
)

var log = logging.L("duplication")

// CaptureDevice owns the graphics device and the duplication handle for one
// output. Initialize replaces every held resource; the mutex serializes
// initialization against acquisition so the device is only ever used by one
// goroutine at a time.
type CaptureDevice struct {
	platform Platform
	log      *slog.Logger

	mu          sync.Mutex
	output      int
	desc        OutputDesc
	device      GraphicsDevice
	duplication Duplication
	inited      bool
	frameHeld   bool

	// generation increments on every successful Initialize so surfaces
	// created from an older device are never reused.
	generation uint64
}

// NewCaptureDevice creates an uninitialized device on the given platform.
func NewCaptureDevice(p Platform) *CaptureDevice {
	return &CaptureDevice{platform: p, log: log}
}

// Initialize tears down any held resources and binds a new duplication for
// the output at outputIndex. On failure every resource acquired by this call
// is released and the device is left uninitialized.
func (d *CaptureDevice) Initialize(outputIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.releaseLocked()

	if outputIndex < 0 {
		return &InitError{Kind: KindOutput, Output: outputIndex, Err: fmt.Errorf("invalid output index %d", outputIndex)}
	}
	d.output = outputIndex

	dev, err := d.platform.CreateDevice()
	if err != nil {
		kind := KindDevice
		if errors.Is(err, ErrNotSupported) {
			kind = KindUnsupported
		}
		return &InitError{Kind: kind, Output: outputIndex, Err: err}
	}
	keep := false
	defer func() {
		if !keep {
			dev.Release()
		}
	}()

	adapter, err := dev.Adapter()
	if err != nil {
		return &InitError{Kind: KindAdapter, Output: outputIndex, Err: err}
	}
	defer adapter.Release()

	out, err := adapter.EnumOutput(outputIndex)
	if err != nil {
		return &InitError{Kind: KindOutput, Output: outputIndex, Err: err}
	}
	defer out.Release()

	desc, err := out.Desc()
	if err != nil {
		return &InitError{Kind: KindGeometry, Output: outputIndex, Err: err}
	}
	if desc.Bounds.Empty() {
		return &InitError{Kind: KindGeometry, Output: outputIndex, Err: fmt.Errorf("empty output bounds %v", desc.Bounds)}
	}

	dupl, err := out.Duplicate(dev)
	if err != nil {
		if errors.Is(err, ErrDuplicationUnavailable) {
			return &InitError{Kind: KindUnavailable, Output: outputIndex, Err: err}
		}
		return &InitError{Kind: KindDuplication, Output: outputIndex, Err: err}
	}

	keep = true
	d.device = dev
	d.duplication = dupl
	d.desc = desc
	d.inited = true
	d.generation++

	d.log.Info("desktop duplication initialized",
		logging.KeyOutput, outputIndex,
		"platform", d.platform.Name(),
		"device", desc.DeviceName,
		"bounds", desc.Bounds.String(),
		"generation", d.generation,
	)
	return nil
}

// Close releases all held resources. Safe to call repeatedly.
func (d *CaptureDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked()
}

// releaseLocked releases whatever is held. Caller must hold d.mu.
func (d *CaptureDevice) releaseLocked() {
	if d.frameHeld && d.duplication != nil {
		if err := d.duplication.ReleaseFrame(); err != nil {
			d.log.Debug("release of held frame during teardown failed", logging.KeyError, err)
		}
	}
	d.frameHeld = false
	if d.duplication != nil {
		d.duplication.Release()
		d.duplication = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	d.inited = false
}

// OutputIndex returns the index passed to the last Initialize call.
func (d *CaptureDevice) OutputIndex() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.output
}

// Bounds returns the output's desktop rectangle and whether the device is
// initialized.
func (d *CaptureDevice) Bounds() (image.Rectangle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.desc.Bounds, d.inited
}

// Desc returns the description of the bound output.
func (d *CaptureDevice) Desc() (OutputDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.desc, d.inited
}

// Initialized reports whether a duplication handle is currently bound.
func (d *CaptureDevice) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inited
}
