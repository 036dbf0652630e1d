package duplication

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
)

// DefaultPollInterval is the minimum spacing between frames produced by the
// screenshot backend. The OS gives no change notification, so frames are
// rate limited instead.
const DefaultPollInterval = 16 * time.Millisecond

// screenshotPlatform emulates desktop duplication by polling full-display
// captures. It produces RGBA8 surfaces and reports access loss when the
// display bounds change under a live duplication.
type screenshotPlatform struct {
	minInterval time.Duration

	numDisplays func() int
	bounds      func(int) image.Rectangle
	capture     func(image.Rectangle) (*image.RGBA, error)
}

// NewScreenshotPlatform returns the portable polling backend.
func NewScreenshotPlatform() Platform {
	return &screenshotPlatform{
		minInterval: DefaultPollInterval,
		numDisplays: screenshot.NumActiveDisplays,
		bounds:      screenshot.GetDisplayBounds,
		capture:     screenshot.CaptureRect,
	}
}

func (p *screenshotPlatform) Name() string { return BackendScreenshot }

func (p *screenshotPlatform) CreateDevice() (GraphicsDevice, error) {
	if p.numDisplays() == 0 {
		return nil, fmt.Errorf("%w: no active displays", ErrNotSupported)
	}
	return &memDevice{platform: p}, nil
}

// memSurface is a CPU surface holding packed rows with a fixed stride.
type memSurface struct {
	desc   SurfaceDesc
	data   []byte
	stride int
	mapped bool
}

func (s *memSurface) Desc() SurfaceDesc { return s.desc }

func (s *memSurface) Release() {
	s.data = nil
	s.mapped = false
}

// memDevice implements GraphicsDevice over system memory.
type memDevice struct {
	platform *screenshotPlatform
	released bool
}

var errDeviceReleased = errors.New("device released")

func (d *memDevice) Adapter() (Adapter, error) {
	if d.released {
		return nil, errDeviceReleased
	}
	return &displayAdapter{platform: d.platform}, nil
}

func (d *memDevice) CreateStaging(desc SurfaceDesc) (Surface, error) {
	if d.released {
		return nil, errDeviceReleased
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("invalid staging size %dx%d", desc.Width, desc.Height)
	}
	stride := desc.Width * 4
	return &memSurface{desc: desc, data: make([]byte, stride*desc.Height), stride: stride}, nil
}

func (d *memDevice) CopyResource(dst, src Surface) error {
	ds, ok1 := dst.(*memSurface)
	ss, ok2 := src.(*memSurface)
	if !ok1 || !ok2 {
		return fmt.Errorf("copy between foreign surfaces %T and %T", dst, src)
	}
	if ds.desc != ss.desc {
		return fmt.Errorf("copy between mismatched surfaces %v and %v", ds.desc, ss.desc)
	}
	if ds.data == nil || ss.data == nil {
		return errors.New("copy on released surface")
	}
	row := ss.desc.Width * 4
	for y := 0; y < ss.desc.Height; y++ {
		copy(ds.data[y*ds.stride:y*ds.stride+row], ss.data[y*ss.stride:y*ss.stride+row])
	}
	return nil
}

func (d *memDevice) Map(s Surface) (MappedSurface, error) {
	ms, ok := s.(*memSurface)
	if !ok {
		return MappedSurface{}, fmt.Errorf("map of foreign surface %T", s)
	}
	if ms.mapped {
		return MappedSurface{}, errors.New("surface already mapped")
	}
	ms.mapped = true
	return MappedSurface{Data: ms.data, RowPitch: ms.stride}, nil
}

func (d *memDevice) Unmap(s Surface) {
	if ms, ok := s.(*memSurface); ok {
		ms.mapped = false
	}
}

func (d *memDevice) Release() { d.released = true }

type displayAdapter struct {
	platform *screenshotPlatform
}

func (a *displayAdapter) EnumOutput(index int) (Output, error) {
	if index < 0 || index >= a.platform.numDisplays() {
		return nil, ErrOutputNotFound
	}
	return &displayOutput{platform: a.platform, index: index}, nil
}

func (a *displayAdapter) Release() {}

type displayOutput struct {
	platform *screenshotPlatform
	index    int
}

func (o *displayOutput) Desc() (OutputDesc, error) {
	return OutputDesc{
		DeviceName: fmt.Sprintf("display%d", o.index),
		Bounds:     o.platform.bounds(o.index),
		Attached:   true,
	}, nil
}

func (o *displayOutput) Duplicate(dev GraphicsDevice) (Duplication, error) {
	if _, ok := dev.(*memDevice); !ok {
		return nil, fmt.Errorf("duplicate with foreign device %T", dev)
	}
	return &pollDuplication{
		platform: o.platform,
		index:    o.index,
		bounds:   o.platform.bounds(o.index),
	}, nil
}

func (o *displayOutput) Release() {}

// pollDuplication paces full-display captures to the platform interval.
type pollDuplication struct {
	platform *screenshotPlatform
	index    int
	bounds   image.Rectangle

	mu     sync.Mutex
	last   time.Time
	held   bool
	frames uint32
}

func (d *pollDuplication) AcquireNextFrame(timeout time.Duration) (Surface, FrameInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.held {
		return nil, FrameInfo{}, errors.New("previous frame not released")
	}
	if d.index >= d.platform.numDisplays() || d.platform.bounds(d.index) != d.bounds {
		return nil, FrameInfo{}, ErrAccessLost
	}

	if !d.last.IsZero() {
		wait := time.Until(d.last.Add(d.platform.minInterval))
		if wait > timeout {
			time.Sleep(timeout)
			return nil, FrameInfo{}, ErrWaitTimeout
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}

	img, err := d.platform.capture(d.bounds)
	if err != nil {
		return nil, FrameInfo{}, fmt.Errorf("capture display %d: %w", d.index, err)
	}
	b := img.Bounds()
	now := time.Now()
	d.last = now
	d.held = true
	d.frames++
	surf := &memSurface{
		desc:   SurfaceDesc{Width: b.Dx(), Height: b.Dy(), Format: FormatRGBA8},
		data:   img.Pix,
		stride: img.Stride,
	}
	return surf, FrameInfo{LastPresentTime: now.UnixNano(), AccumulatedFrames: 1}, nil
}

func (d *pollDuplication) ReleaseFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.held {
		return errors.New("no frame held")
	}
	d.held = false
	return nil
}

func (d *pollDuplication) Release() {
	d.mu.Lock()
	d.held = false
	d.mu.Unlock()
}
