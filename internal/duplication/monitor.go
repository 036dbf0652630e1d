package duplication

import (
	"errors"
	"fmt"

	"github.com/kbinani/screenshot"
)

// MonitorInfo describes a display output that can be passed to Initialize.
type MonitorInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	IsPrimary bool   `json:"isPrimary"`
}

// MonitorCount returns the number of active displays reported by the OS.
// It does not touch any duplication state.
func MonitorCount() int {
	return screenshot.NumActiveDisplays()
}

// ListMonitors enumerates the outputs of the platform's default adapter.
// Outputs that are not attached to the desktop are skipped, so Index may
// have gaps.
func ListMonitors(p Platform) ([]MonitorInfo, error) {
	dev, err := p.CreateDevice()
	if err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	defer dev.Release()

	adapter, err := dev.Adapter()
	if err != nil {
		return nil, fmt.Errorf("get adapter: %w", err)
	}
	defer adapter.Release()

	var monitors []MonitorInfo
	for i := 0; ; i++ {
		out, err := adapter.EnumOutput(i)
		if errors.Is(err, ErrOutputNotFound) {
			break
		}
		if err != nil {
			log.Warn("enumerate output failed", "index", i, "error", err)
			break
		}
		desc, err := out.Desc()
		out.Release()
		if err != nil {
			log.Warn("output description failed", "index", i, "error", err)
			continue
		}
		if !desc.Attached {
			continue
		}
		b := desc.Bounds
		monitors = append(monitors, MonitorInfo{
			Index:     i,
			Name:      desc.DeviceName,
			Width:     b.Dx(),
			Height:    b.Dy(),
			X:         b.Min.X,
			Y:         b.Min.Y,
			IsPrimary: b.Min.X == 0 && b.Min.Y == 0,
		})
	}

	if len(monitors) == 0 {
		return nil, fmt.Errorf("no monitors found")
	}
	return monitors, nil
}
