//go:build windows

package duplication

import (
	"fmt"
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
)

// COM vtable calling helpers for the pure-Go D3D11/DXGI binding.

const vtblQueryInterface = 0

// comVtblFn resolves a COM vtable function pointer by index.
func comVtblFn(obj uintptr, idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// comCall invokes the COM method at vtableIdx on obj and converts a failed
// HRESULT into an error naming op.
func comCall(obj uintptr, vtableIdx int, op string, args ...uintptr) (uintptr, error) {
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(comVtblFn(obj, vtableIdx), allArgs...)
	if int32(ret) < 0 {
		return ret, hrError(op, ret)
	}
	return ret, nil
}

// comQuery calls IUnknown::QueryInterface for iid.
func comQuery(obj uintptr, iid *ole.GUID, op string) (uintptr, error) {
	var out uintptr
	if _, err := comCall(obj, vtblQueryInterface, op,
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&out)),
	); err != nil {
		return 0, err
	}
	return out, nil
}

// comRelease calls IUnknown::Release. Zero pointers are ignored.
func comRelease(obj uintptr) {
	if obj == 0 {
		return
	}
	(*ole.IUnknown)(unsafe.Pointer(obj)).Release()
}

// DXGI HRESULTs the duplication code distinguishes.
const (
	dxgiErrInvalidCall           = 0x887A0001
	dxgiErrNotFound              = 0x887A0002
	dxgiErrUnsupported           = 0x887A0004
	dxgiErrDeviceRemoved         = 0x887A0005
	dxgiErrDeviceReset           = 0x887A0007
	dxgiErrNotCurrentlyAvailable = 0x887A0022
	dxgiErrAccessLost            = 0x887A0026
	dxgiErrWaitTimeout           = 0x887A0027
)

// dxgiSentinel maps an HRESULT onto the platform error it represents.
// Device removal and reset are reported as access loss so the caller
// re-creates the whole device, which is the only recovery for them.
func dxgiSentinel(hr uint32) error {
	switch hr {
	case dxgiErrWaitTimeout:
		return ErrWaitTimeout
	case dxgiErrAccessLost, dxgiErrDeviceRemoved, dxgiErrDeviceReset, dxgiErrInvalidCall:
		return ErrAccessLost
	case dxgiErrNotCurrentlyAvailable:
		return ErrDuplicationUnavailable
	case dxgiErrNotFound:
		return ErrOutputNotFound
	case dxgiErrUnsupported:
		return ErrNotSupported
	}
	return nil
}

// hrError wraps a failed HRESULT. Known DXGI codes wrap their sentinel so
// callers can use errors.Is.
func hrError(op string, hr uintptr) error {
	if s := dxgiSentinel(uint32(hr)); s != nil {
		return fmt.Errorf("%s: %w (0x%08X)", op, s, uint32(hr))
	}
	return fmt.Errorf("%s: %w", op, ole.NewError(hr))
}
