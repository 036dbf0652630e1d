package duplication

import (
	"encoding/json"
	"fmt"
)

// Status tags a CaptureResult.
type Status int

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusAccessLost
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusAccessLost:
		return "accesslost"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Frame is an owned, tightly packed, top-down RGBA8 buffer.
// len(Data) == Width*Height*4.
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

// Release hands the buffer back for reuse by later acquisitions. The frame
// must not be used afterwards. Calling Release is optional.
func (f *Frame) Release() {
	if f == nil || f.Data == nil {
		return
	}
	frameBuffers.put(f.Data)
	f.Data = nil
}

// CaptureResult is the outcome of one acquisition attempt. Frame is set only
// for StatusSuccess, Err only for StatusError and, on terminal notifications,
// StatusAccessLost.
type CaptureResult struct {
	Status   Status
	Frame    *Frame
	Err      error
	Terminal bool
}

// Message returns the error text for error results.
func (r CaptureResult) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// MarshalJSON renders the result metadata without the pixel data.
func (r CaptureResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Status   Status `json:"status"`
		Width    int    `json:"width,omitempty"`
		Height   int    `json:"height,omitempty"`
		Message  string `json:"message,omitempty"`
		Terminal bool   `json:"terminal,omitempty"`
	}{
		Status:   r.Status,
		Message:  r.Message(),
		Terminal: r.Terminal,
	}
	if r.Frame != nil {
		out.Width = r.Frame.Width
		out.Height = r.Frame.Height
	}
	return json.Marshal(out)
}

func successResult(f *Frame) CaptureResult {
	return CaptureResult{Status: StatusSuccess, Frame: f}
}

func timeoutResult() CaptureResult {
	return CaptureResult{Status: StatusTimeout}
}

func accessLostResult() CaptureResult {
	return CaptureResult{Status: StatusAccessLost}
}

func errorResult(err error) CaptureResult {
	return CaptureResult{Status: StatusError, Err: err}
}
