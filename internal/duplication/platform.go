package duplication

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"strings"
	"time"
)

// PixelFormat identifies a surface layout. Values match DXGI_FORMAT.
type PixelFormat uint32

const (
	FormatUnknown PixelFormat = 0
	FormatRGBA8   PixelFormat = 28 // DXGI_FORMAT_R8G8B8A8_UNORM
	FormatBGRA8   PixelFormat = 87 // DXGI_FORMAT_B8G8R8A8_UNORM
)

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatBGRA8:
		return "BGRA8"
	default:
		return fmt.Sprintf("format(%d)", uint32(f))
	}
}

// SurfaceDesc describes the dimensions and layout of a surface.
type SurfaceDesc struct {
	Width  int
	Height int
	Format PixelFormat
}

// MappedSurface is a CPU view of a staging surface. Data is only valid until
// the surface is unmapped.
type MappedSurface struct {
	Data     []byte
	RowPitch int
}

// OutputDesc describes a display output attached to an adapter.
type OutputDesc struct {
	DeviceName string
	Bounds     image.Rectangle // desktop coordinates
	Attached   bool
}

// FrameInfo carries the metadata returned alongside an acquired frame.
type FrameInfo struct {
	LastPresentTime   int64
	AccumulatedFrames uint32
}

// Errors reported by platform implementations.
var (
	// ErrWaitTimeout means no new frame arrived within the acquire timeout.
	ErrWaitTimeout = errors.New("wait timeout")

	// ErrAccessLost means the duplication handle was invalidated by a desktop
	// mode change and must be recreated.
	ErrAccessLost = errors.New("duplication access lost")

	// ErrDuplicationUnavailable means the OS limit of concurrent duplication
	// consumers for the output has been reached.
	ErrDuplicationUnavailable = errors.New("there is already the maximum number of applications using desktop duplication; close one of them and try again")

	// ErrOutputNotFound is returned when the adapter has no output at the index.
	ErrOutputNotFound = errors.New("output not found")

	// ErrNotSupported is returned when the platform cannot duplicate outputs.
	ErrNotSupported = errors.New("desktop duplication not supported on this platform")
)

// Platform is the graphics stack a CaptureDevice is built on.
type Platform interface {
	Name() string

	// CreateDevice creates a graphics device and its immediate context.
	CreateDevice() (GraphicsDevice, error)
}

// GraphicsDevice owns a device and its immediate context. Not safe for
// concurrent use.
type GraphicsDevice interface {
	Adapter() (Adapter, error)
	CreateStaging(desc SurfaceDesc) (Surface, error)
	CopyResource(dst, src Surface) error
	Map(s Surface) (MappedSurface, error)
	Unmap(s Surface)
	Release()
}

// Adapter enumerates the outputs of a display adapter.
type Adapter interface {
	EnumOutput(index int) (Output, error)
	Release()
}

// Output is a single display output.
type Output interface {
	Desc() (OutputDesc, error)
	Duplicate(dev GraphicsDevice) (Duplication, error)
	Release()
}

// Duplication is a live subscription to an output's frame updates.
//
// A successful AcquireNextFrame leaves one frame held until ReleaseFrame.
// When AcquireNextFrame fails no frame is held.
type Duplication interface {
	AcquireNextFrame(timeout time.Duration) (Surface, FrameInfo, error)
	ReleaseFrame() error
	Release()
}

// Surface is a GPU texture or CPU staging surface.
type Surface interface {
	Desc() SurfaceDesc
	Release()
}

// Backend names accepted by NewPlatform.
const (
	BackendAuto       = "auto"
	BackendDXGI       = "dxgi"
	BackendScreenshot = "screenshot"
)

// NewPlatform returns the platform for a backend name. "auto" selects DXGI on
// Windows and the screenshot polling backend elsewhere.
func NewPlatform(backend string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendAuto:
		if runtime.GOOS == "windows" {
			return newDXGIPlatform(), nil
		}
		return NewScreenshotPlatform(), nil
	case BackendDXGI:
		return newDXGIPlatform(), nil
	case BackendScreenshot:
		return NewScreenshotPlatform(), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q (use auto, dxgi or screenshot)", backend)
	}
}
