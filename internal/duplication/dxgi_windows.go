//go:build windows

package duplication

import (
	"errors"
	"fmt"
	"image"
	"syscall"
	"time"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

var (
	d3d11DLL = windows.NewLazySystemDLL("d3d11.dll")

	procD3D11CreateDevice = d3d11DLL.NewProc("D3D11CreateDevice")
)

// D3D11/DXGI constants
const (
	d3dDriverTypeHardware  = 1
	d3dDriverTypeReference = 2
	d3dDriverTypeWarp      = 5

	d3dFeatureLevel9_1  = 0x9100
	d3dFeatureLevel10_0 = 0xa000
	d3dFeatureLevel10_1 = 0xa100
	d3dFeatureLevel11_0 = 0xb000

	d3d11SDKVersion              = 7
	d3d11CreateDeviceBGRASupport = 0x20

	d3d11UsageStaging  = 3
	d3d11CPUAccessRead = 0x20000
	d3d11MapRead       = 1

	// COM vtable indices
	dxgiDeviceGetAdapter       = 7  // IDXGIDevice (after IUnknown+IDXGIObject)
	dxgiAdapterEnumOutputs     = 7  // IDXGIAdapter
	dxgiOutputGetDesc          = 7  // IDXGIOutput
	dxgiOutput1DuplicateOutput = 22 // IDXGIOutput1
	dxgiDuplAcquireNextFrame   = 8  // IDXGIOutputDuplication
	dxgiDuplReleaseFrame       = 14 // IDXGIOutputDuplication
	d3d11DeviceCreateTexture2D = 5  // ID3D11Device
	d3d11Texture2DGetDesc      = 10 // ID3D11Texture2D (after IUnknown+ID3D11DeviceChild+ID3D11Resource)
	d3d11CtxMap                = 14 // ID3D11DeviceContext
	d3d11CtxUnmap              = 15 // ID3D11DeviceContext
	d3d11CtxCopyResource       = 47 // ID3D11DeviceContext
)

// Driver types in the order device creation tries them.
var driverTypes = []uint32{d3dDriverTypeHardware, d3dDriverTypeWarp, d3dDriverTypeReference}

var featureLevels = []uint32{d3dFeatureLevel11_0, d3dFeatureLevel10_1, d3dFeatureLevel10_0, d3dFeatureLevel9_1}

var (
	iidIDXGIDevice     = ole.NewGUID("{54EC77FA-1377-44E6-8C32-88FD5F44C84C}")
	iidIDXGIOutput1    = ole.NewGUID("{00CDDEA8-939B-4B83-A340-A685226666CC}")
	iidID3D11Texture2D = ole.NewGUID("{6F15AAF2-D208-4E89-9AB4-489535D34F9C}")
)

// d3d11Texture2DDesc matches D3D11_TEXTURE2D_DESC (44 bytes).
type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32 // DXGI_SAMPLE_DESC.Count
	SampleQuality  uint32 // DXGI_SAMPLE_DESC.Quality
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// d3d11MappedSubresource matches D3D11_MAPPED_SUBRESOURCE.
type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

// dxgiOutputDesc matches DXGI_OUTPUT_DESC (96 bytes on amd64).
type dxgiOutputDesc struct {
	DeviceName        [32]uint16
	Left              int32
	Top               int32
	Right             int32
	Bottom            int32
	AttachedToDesktop int32
	Rotation          uint32
	Monitor           uintptr
}

// dxgiOutDuplFrameInfo matches DXGI_OUTDUPL_FRAME_INFO.
type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

// dxgiPlatform is desktop duplication over D3D11, called through COM vtables
// without cgo.
type dxgiPlatform struct{}

func newDXGIPlatform() Platform { return dxgiPlatform{} }

func (dxgiPlatform) Name() string { return BackendDXGI }

// CreateDevice creates a D3D11 device, falling back from hardware to WARP to
// the reference rasterizer.
func (dxgiPlatform) CreateDevice() (GraphicsDevice, error) {
	if err := procD3D11CreateDevice.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}
	var lastErr error
	for _, dt := range driverTypes {
		var device, context uintptr
		var level uint32
		hr, _, _ := procD3D11CreateDevice.Call(
			0,           // pAdapter (NULL = default)
			uintptr(dt), // DriverType
			0,           // Software
			uintptr(d3d11CreateDeviceBGRASupport),
			uintptr(unsafe.Pointer(&featureLevels[0])),
			uintptr(len(featureLevels)),
			uintptr(d3d11SDKVersion),
			uintptr(unsafe.Pointer(&device)),
			uintptr(unsafe.Pointer(&level)),
			uintptr(unsafe.Pointer(&context)),
		)
		if int32(hr) >= 0 {
			log.Debug("D3D11 device created", "driverType", dt, "featureLevel", fmt.Sprintf("0x%04X", level))
			return &d3dDevice{device: device, context: context}, nil
		}
		lastErr = hrError(fmt.Sprintf("D3D11CreateDevice(driver type %d)", dt), hr)
	}
	return nil, lastErr
}

// d3dDevice holds an ID3D11Device and its immediate context.
type d3dDevice struct {
	device  uintptr
	context uintptr
}

func (d *d3dDevice) Adapter() (Adapter, error) {
	dxgiDevice, err := comQuery(d.device, iidIDXGIDevice, "QueryInterface IDXGIDevice")
	if err != nil {
		return nil, err
	}
	defer comRelease(dxgiDevice)

	var adapter uintptr
	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, "IDXGIDevice::GetAdapter",
		uintptr(unsafe.Pointer(&adapter)),
	); err != nil {
		return nil, err
	}
	return &dxgiAdapter{ptr: adapter}, nil
}

func (d *d3dDevice) CreateStaging(desc SurfaceDesc) (Surface, error) {
	td := d3d11Texture2DDesc{
		Width:          uint32(desc.Width),
		Height:         uint32(desc.Height),
		MipLevels:      1,
		ArraySize:      1,
		Format:         uint32(desc.Format),
		SampleCount:    1,
		Usage:          d3d11UsageStaging,
		CPUAccessFlags: d3d11CPUAccessRead,
	}
	var tex uintptr
	if _, err := comCall(d.device, d3d11DeviceCreateTexture2D, "ID3D11Device::CreateTexture2D",
		uintptr(unsafe.Pointer(&td)),
		0,
		uintptr(unsafe.Pointer(&tex)),
	); err != nil {
		return nil, err
	}
	return &d3dTexture{ptr: tex, desc: desc}, nil
}

func (d *d3dDevice) CopyResource(dst, src Surface) error {
	dt, ok1 := dst.(*d3dTexture)
	st, ok2 := src.(*d3dTexture)
	if !ok1 || !ok2 {
		return fmt.Errorf("copy between foreign surfaces %T and %T", dst, src)
	}
	// CopyResource returns void; a mismatch is reported by the next Map.
	syscall.SyscallN(comVtblFn(d.context, d3d11CtxCopyResource), d.context, dt.ptr, st.ptr)
	return nil
}

func (d *d3dDevice) Map(s Surface) (MappedSurface, error) {
	t, ok := s.(*d3dTexture)
	if !ok {
		return MappedSurface{}, fmt.Errorf("map of foreign surface %T", s)
	}
	var mapped d3d11MappedSubresource
	if _, err := comCall(d.context, d3d11CtxMap, "ID3D11DeviceContext::Map",
		t.ptr,
		0, // Subresource
		d3d11MapRead,
		0, // Flags
		uintptr(unsafe.Pointer(&mapped)),
	); err != nil {
		return MappedSurface{}, err
	}
	if mapped.PData == 0 {
		syscall.SyscallN(comVtblFn(d.context, d3d11CtxUnmap), d.context, t.ptr, 0)
		return MappedSurface{}, errors.New("ID3D11DeviceContext::Map returned no data")
	}
	size := int(mapped.RowPitch) * t.desc.Height
	return MappedSurface{
		Data:     unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), size),
		RowPitch: int(mapped.RowPitch),
	}, nil
}

func (d *d3dDevice) Unmap(s Surface) {
	if t, ok := s.(*d3dTexture); ok {
		syscall.SyscallN(comVtblFn(d.context, d3d11CtxUnmap), d.context, t.ptr, 0)
	}
}

func (d *d3dDevice) Release() {
	comRelease(d.context)
	comRelease(d.device)
	d.context = 0
	d.device = 0
}

type dxgiAdapter struct {
	ptr uintptr
}

func (a *dxgiAdapter) EnumOutput(index int) (Output, error) {
	var output uintptr
	if _, err := comCall(a.ptr, dxgiAdapterEnumOutputs, "IDXGIAdapter::EnumOutputs",
		uintptr(index),
		uintptr(unsafe.Pointer(&output)),
	); err != nil {
		return nil, err
	}
	return &dxgiOutput{ptr: output}, nil
}

func (a *dxgiAdapter) Release() {
	comRelease(a.ptr)
	a.ptr = 0
}

type dxgiOutput struct {
	ptr uintptr
}

func (o *dxgiOutput) Desc() (OutputDesc, error) {
	var desc dxgiOutputDesc
	if _, err := comCall(o.ptr, dxgiOutputGetDesc, "IDXGIOutput::GetDesc",
		uintptr(unsafe.Pointer(&desc)),
	); err != nil {
		return OutputDesc{}, err
	}
	return OutputDesc{
		DeviceName: windows.UTF16ToString(desc.DeviceName[:]),
		Bounds:     image.Rect(int(desc.Left), int(desc.Top), int(desc.Right), int(desc.Bottom)),
		Attached:   desc.AttachedToDesktop != 0,
	}, nil
}

func (o *dxgiOutput) Duplicate(dev GraphicsDevice) (Duplication, error) {
	d, ok := dev.(*d3dDevice)
	if !ok {
		return nil, fmt.Errorf("duplicate with foreign device %T", dev)
	}
	output1, err := comQuery(o.ptr, iidIDXGIOutput1, "QueryInterface IDXGIOutput1")
	if err != nil {
		return nil, err
	}
	defer comRelease(output1)

	var dupl uintptr
	if _, err := comCall(output1, dxgiOutput1DuplicateOutput, "IDXGIOutput1::DuplicateOutput",
		d.device,
		uintptr(unsafe.Pointer(&dupl)),
	); err != nil {
		return nil, err
	}
	return &dxgiDuplication{ptr: dupl}, nil
}

func (o *dxgiOutput) Release() {
	comRelease(o.ptr)
	o.ptr = 0
}

// dxgiDuplication wraps IDXGIOutputDuplication.
type dxgiDuplication struct {
	ptr uintptr
}

func (d *dxgiDuplication) AcquireNextFrame(timeout time.Duration) (Surface, FrameInfo, error) {
	var info dxgiOutDuplFrameInfo
	var resource uintptr
	hr, _, _ := syscall.SyscallN(
		comVtblFn(d.ptr, dxgiDuplAcquireNextFrame),
		d.ptr,
		uintptr(timeout.Milliseconds()),
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Pointer(&resource)),
	)
	if int32(hr) < 0 {
		return nil, FrameInfo{}, hrError("IDXGIOutputDuplication::AcquireNextFrame", hr)
	}

	tex, err := comQuery(resource, iidID3D11Texture2D, "QueryInterface ID3D11Texture2D")
	comRelease(resource)
	if err != nil {
		syscall.SyscallN(comVtblFn(d.ptr, dxgiDuplReleaseFrame), d.ptr)
		return nil, FrameInfo{}, err
	}

	var td d3d11Texture2DDesc
	syscall.SyscallN(comVtblFn(tex, d3d11Texture2DGetDesc), tex, uintptr(unsafe.Pointer(&td)))

	surf := &d3dTexture{
		ptr:  tex,
		desc: SurfaceDesc{Width: int(td.Width), Height: int(td.Height), Format: PixelFormat(td.Format)},
	}
	return surf, FrameInfo{LastPresentTime: info.LastPresentTime, AccumulatedFrames: info.AccumulatedFrames}, nil
}

func (d *dxgiDuplication) ReleaseFrame() error {
	hr, _, _ := syscall.SyscallN(comVtblFn(d.ptr, dxgiDuplReleaseFrame), d.ptr)
	if int32(hr) < 0 {
		return hrError("IDXGIOutputDuplication::ReleaseFrame", hr)
	}
	return nil
}

func (d *dxgiDuplication) Release() {
	comRelease(d.ptr)
	d.ptr = 0
}

// d3dTexture wraps an ID3D11Texture2D.
type d3dTexture struct {
	ptr  uintptr
	desc SurfaceDesc
}

func (t *d3dTexture) Desc() SurfaceDesc { return t.desc }

func (t *d3dTexture) Release() {
	comRelease(t.ptr)
	t.ptr = 0
}
