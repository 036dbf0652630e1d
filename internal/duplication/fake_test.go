package duplication

import (
	"errors"
	"image"
	"sync"
	"time"
)

// fakeCounts tracks every resource the fake platform hands out.
type fakeCounts struct {
	devices, devicesReleased   int
	adapters, adaptersReleased int
	outputs, outputsReleased   int
	dupls, duplsReleased       int
	staging, stagingReleased   int
	textures, texturesReleased int
	acquired, framesReleased   int
	maps, unmaps               int
}

// fakePlatform is a scriptable in-memory Platform. Frames are BGRA8 with a
// padded row pitch by default; every pixel is B=1 G=2 R=3 A=255 unless blank.
type fakePlatform struct {
	mu sync.Mutex

	width, height int
	pad           int
	format        PixelFormat
	blankFrames   int

	// acquire, when set, decides the outcome of each AcquireNextFrame call.
	// Returning nil produces a frame.
	acquire func(timeout time.Duration) error

	createErr, adapterErr, enumErr, descErr, dupErr error
	stagingErr, copyErr, mapErr                     error

	counts fakeCounts
	held   bool
	// doubleAcquire is set if a frame was requested while one was held.
	doubleAcquire bool
}

func newFakePlatform(w, h int) *fakePlatform {
	return &fakePlatform{width: w, height: h, pad: 8, format: FormatBGRA8}
}

func (p *fakePlatform) Name() string { return "fake" }

func (p *fakePlatform) set(fn func(p *fakePlatform)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakePlatform) snapshot() fakeCounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

func (p *fakePlatform) CreateDevice() (GraphicsDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.counts.devices++
	return &fakeDevice{p: p}, nil
}

type fakeSurface struct {
	p        *fakePlatform
	desc     SurfaceDesc
	data     []byte
	pitch    int
	staging  bool
	released bool
}

func (s *fakeSurface) Desc() SurfaceDesc { return s.desc }

func (s *fakeSurface) Release() {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.staging {
		s.p.counts.stagingReleased++
	} else {
		s.p.counts.texturesReleased++
	}
}

type fakeDevice struct {
	p        *fakePlatform
	released bool
}

func (d *fakeDevice) Adapter() (Adapter, error) {
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	if d.p.adapterErr != nil {
		return nil, d.p.adapterErr
	}
	d.p.counts.adapters++
	return &fakeAdapter{p: d.p}, nil
}

func (d *fakeDevice) CreateStaging(desc SurfaceDesc) (Surface, error) {
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	if d.p.stagingErr != nil {
		return nil, d.p.stagingErr
	}
	d.p.counts.staging++
	pitch := desc.Width*4 + d.p.pad
	return &fakeSurface{p: d.p, desc: desc, data: make([]byte, pitch*desc.Height), pitch: pitch, staging: true}, nil
}

func (d *fakeDevice) CopyResource(dst, src Surface) error {
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	if d.p.copyErr != nil {
		return d.p.copyErr
	}
	ds, ss := dst.(*fakeSurface), src.(*fakeSurface)
	if ds.desc != ss.desc {
		return errors.New("mismatched copy")
	}
	copy(ds.data, ss.data)
	return nil
}

func (d *fakeDevice) Map(s Surface) (MappedSurface, error) {
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	if d.p.mapErr != nil {
		return MappedSurface{}, d.p.mapErr
	}
	d.p.counts.maps++
	fs := s.(*fakeSurface)
	return MappedSurface{Data: fs.data, RowPitch: fs.pitch}, nil
}

func (d *fakeDevice) Unmap(Surface) {
	d.p.mu.Lock()
	d.p.counts.unmaps++
	d.p.mu.Unlock()
}

func (d *fakeDevice) Release() {
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	if !d.released {
		d.released = true
		d.p.counts.devicesReleased++
	}
}

type fakeAdapter struct{ p *fakePlatform }

func (a *fakeAdapter) EnumOutput(index int) (Output, error) {
	a.p.mu.Lock()
	defer a.p.mu.Unlock()
	if a.p.enumErr != nil {
		return nil, a.p.enumErr
	}
	if index > 1 {
		return nil, ErrOutputNotFound
	}
	a.p.counts.outputs++
	return &fakeOutput{p: a.p, index: index}, nil
}

func (a *fakeAdapter) Release() {
	a.p.mu.Lock()
	a.p.counts.adaptersReleased++
	a.p.mu.Unlock()
}

type fakeOutput struct {
	p     *fakePlatform
	index int
}

func (o *fakeOutput) Desc() (OutputDesc, error) {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()
	if o.p.descErr != nil {
		return OutputDesc{}, o.p.descErr
	}
	x := o.index * o.p.width
	return OutputDesc{
		DeviceName: "FAKE",
		Bounds:     image.Rect(x, 0, x+o.p.width, o.p.height),
		Attached:   true,
	}, nil
}

func (o *fakeOutput) Duplicate(GraphicsDevice) (Duplication, error) {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()
	if o.p.dupErr != nil {
		return nil, o.p.dupErr
	}
	o.p.counts.dupls++
	return &fakeDuplication{p: o.p}, nil
}

func (o *fakeOutput) Release() {
	o.p.mu.Lock()
	o.p.counts.outputsReleased++
	o.p.mu.Unlock()
}

type fakeDuplication struct {
	p        *fakePlatform
	released bool
}

func (d *fakeDuplication) AcquireNextFrame(timeout time.Duration) (Surface, FrameInfo, error) {
	d.p.mu.Lock()
	fn := d.p.acquire
	if d.p.held {
		d.p.doubleAcquire = true
	}
	d.p.mu.Unlock()

	if fn != nil {
		if err := fn(timeout); err != nil {
			return nil, FrameInfo{}, err
		}
	}

	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	w, h := d.p.width, d.p.height
	pitch := w*4 + d.p.pad
	data := make([]byte, pitch*h)
	blank := d.p.blankFrames > 0
	if blank {
		d.p.blankFrames--
	} else {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := y*pitch + x*4
				data[off], data[off+1], data[off+2], data[off+3] = 1, 2, 3, 255
			}
		}
	}
	d.p.held = true
	d.p.counts.acquired++
	d.p.counts.textures++
	tex := &fakeSurface{p: d.p, desc: SurfaceDesc{Width: w, Height: h, Format: d.p.format}, data: data, pitch: pitch}
	return tex, FrameInfo{AccumulatedFrames: 1}, nil
}

func (d *fakeDuplication) ReleaseFrame() error {
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	if !d.p.held {
		return errors.New("no frame held")
	}
	d.p.held = false
	d.p.counts.framesReleased++
	return nil
}

func (d *fakeDuplication) Release() {
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	if !d.released {
		d.released = true
		d.p.counts.duplsReleased++
	}
}

// sleepTimeout blocks for the full timeout and reports no frame.
func sleepTimeout(timeout time.Duration) error {
	time.Sleep(timeout)
	return ErrWaitTimeout
}
