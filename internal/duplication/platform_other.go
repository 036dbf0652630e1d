//go:build !windows

package duplication

// unsupportedPlatform stands in for DXGI on systems without it.
type unsupportedPlatform struct{}

func newDXGIPlatform() Platform { return unsupportedPlatform{} }

func (unsupportedPlatform) Name() string { return BackendDXGI }

func (unsupportedPlatform) CreateDevice() (GraphicsDevice, error) {
	return nil, ErrNotSupported
}
