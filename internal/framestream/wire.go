package framestream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/breeze-rmm/deskdup/internal/duplication"
)

// HeaderSize is the length of the binary frame header: width and height as
// little-endian uint32.
const HeaderSize = 8

// EncodeFrame builds the binary message for a frame: header followed by the
// tightly packed RGBA pixels.
func EncodeFrame(f *duplication.Frame) []byte {
	msg := make([]byte, HeaderSize+len(f.Data))
	binary.LittleEndian.PutUint32(msg[0:4], uint32(f.Width))
	binary.LittleEndian.PutUint32(msg[4:8], uint32(f.Height))
	copy(msg[HeaderSize:], f.Data)
	return msg
}

var errShortMessage = errors.New("frame message shorter than header")

// DecodeFrame splits a binary frame message. pix aliases msg.
func DecodeFrame(msg []byte) (width, height int, pix []byte, err error) {
	if len(msg) < HeaderSize {
		return 0, 0, nil, errShortMessage
	}
	width = int(binary.LittleEndian.Uint32(msg[0:4]))
	height = int(binary.LittleEndian.Uint32(msg[4:8]))
	pix = msg[HeaderSize:]
	if want := width * height * 4; len(pix) != want {
		return 0, 0, nil, fmt.Errorf("frame %dx%d carries %d bytes, want %d", width, height, len(pix), want)
	}
	return width, height, pix, nil
}
