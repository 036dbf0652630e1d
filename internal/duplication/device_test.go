package duplication

import (
	"errors"
	"testing"
)

func TestInitializeSuccess(t *testing.T) {
	p := newFakePlatform(8, 4)
	dev := NewCaptureDevice(p)
	if err := dev.Initialize(1); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !dev.Initialized() {
		t.Fatal("expected device to be initialized")
	}
	b, ok := dev.Bounds()
	if !ok || b.Min.X != 8 || b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("unexpected bounds %v (ok=%v)", b, ok)
	}
	c := p.snapshot()
	// Adapter and output are only needed during initialization.
	if c.adapters != c.adaptersReleased || c.outputs != c.outputsReleased {
		t.Fatalf("adapter/output leaked: %+v", c)
	}
	if c.devices != 1 || c.devicesReleased != 0 || c.dupls != 1 {
		t.Fatalf("unexpected counts after init: %+v", c)
	}
}

func TestInitializeErrorKinds(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		setup     func(p *fakePlatform)
		index     int
		kind      InitErrorKind
		retryable bool
	}{
		{"negative index", func(*fakePlatform) {}, -1, KindOutput, true},
		{"device", func(p *fakePlatform) { p.createErr = boom }, 0, KindDevice, true},
		{"unsupported", func(p *fakePlatform) { p.createErr = ErrNotSupported }, 0, KindUnsupported, false},
		{"adapter", func(p *fakePlatform) { p.adapterErr = boom }, 0, KindAdapter, true},
		{"output missing", func(*fakePlatform) {}, 5, KindOutput, true},
		{"geometry", func(p *fakePlatform) { p.descErr = boom }, 0, KindGeometry, true},
		{"empty geometry", func(p *fakePlatform) { p.width = 0 }, 0, KindGeometry, true},
		{"duplication", func(p *fakePlatform) { p.dupErr = boom }, 0, KindDuplication, true},
		{"unavailable", func(p *fakePlatform) { p.dupErr = ErrDuplicationUnavailable }, 0, KindUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePlatform(8, 4)
			tt.setup(p)
			dev := NewCaptureDevice(p)
			err := dev.Initialize(tt.index)
			var ie *InitError
			if !errors.As(err, &ie) {
				t.Fatalf("expected *InitError, got %v", err)
			}
			if ie.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", ie.Kind, tt.kind)
			}
			if ie.Retryable() != tt.retryable || IsRetryable(err) != tt.retryable {
				t.Fatalf("retryable = %v, want %v", ie.Retryable(), tt.retryable)
			}
			if dev.Initialized() {
				t.Fatal("device must stay uninitialized after failure")
			}
			c := p.snapshot()
			if c.devices != c.devicesReleased || c.adapters != c.adaptersReleased || c.outputs != c.outputsReleased {
				t.Fatalf("resources leaked on failure: %+v", c)
			}
		})
	}
}

func TestInitializeUnavailableWrapsSentinel(t *testing.T) {
	p := newFakePlatform(8, 4)
	p.dupErr = ErrDuplicationUnavailable
	err := NewCaptureDevice(p).Initialize(0)
	if !errors.Is(err, ErrDuplicationUnavailable) {
		t.Fatalf("expected ErrDuplicationUnavailable in chain, got %v", err)
	}
}

func TestInitializeRepeatedDoesNotLeak(t *testing.T) {
	p := newFakePlatform(8, 4)
	dev := NewCaptureDevice(p)
	for i := 0; i < 5; i++ {
		if err := dev.Initialize(0); err != nil {
			t.Fatalf("Initialize #%d: %v", i, err)
		}
	}
	c := p.snapshot()
	if c.devices-c.devicesReleased != 1 || c.dupls-c.duplsReleased != 1 {
		t.Fatalf("expected exactly one live device and duplication, got %+v", c)
	}

	dev.Close()
	dev.Close()
	c = p.snapshot()
	if c.devices != c.devicesReleased || c.dupls != c.duplsReleased {
		t.Fatalf("Close leaked resources: %+v", c)
	}
	if dev.Initialized() {
		t.Fatal("device still initialized after Close")
	}
}

func TestInitializeReleasesHeldFrame(t *testing.T) {
	p := newFakePlatform(8, 4)
	dev := NewCaptureDevice(p)
	if err := dev.Initialize(0); err != nil {
		t.Fatal(err)
	}
	// Simulate a frame left held by an interrupted acquisition.
	if _, _, err := dev.duplication.AcquireNextFrame(0); err != nil {
		t.Fatal(err)
	}
	dev.frameHeld = true

	if err := dev.Initialize(0); err != nil {
		t.Fatal(err)
	}
	if c := p.snapshot(); c.framesReleased != 1 {
		t.Fatalf("held frame not released on re-initialize: %+v", c)
	}
}

func TestInitializeFailureAfterSuccessTearsDown(t *testing.T) {
	p := newFakePlatform(8, 4)
	dev := NewCaptureDevice(p)
	if err := dev.Initialize(0); err != nil {
		t.Fatal(err)
	}
	p.set(func(p *fakePlatform) { p.dupErr = errors.New("gone") })
	if err := dev.Initialize(0); err == nil {
		t.Fatal("expected error")
	}
	c := p.snapshot()
	if c.devices != c.devicesReleased || c.dupls != c.duplsReleased {
		t.Fatalf("previous resources not released: %+v", c)
	}
	if dev.OutputIndex() != 0 {
		t.Fatalf("OutputIndex = %d, want 0", dev.OutputIndex())
	}
}
