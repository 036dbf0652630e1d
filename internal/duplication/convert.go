package duplication

import (
	"fmt"
	"math"
)

// ConvertToRGBA copies a mapped surface into a new top-down RGBA8 buffer of
// width*height*4 bytes with no row padding. rowPitch is the byte distance
// between source rows and may exceed width*4.
//
// BGRA8 sources have bytes 0 and 2 of every pixel exchanged; RGBA8 sources
// are repacked only.
func ConvertToRGBA(src []byte, width, height, rowPitch int, format PixelFormat) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid surface dimensions %dx%d", width, height)
	}
	if width > math.MaxInt/4/height {
		return nil, fmt.Errorf("surface %dx%d too large", width, height)
	}
	rowBytes := width * 4
	if rowPitch < rowBytes {
		return nil, fmt.Errorf("row pitch %d smaller than row size %d", rowPitch, rowBytes)
	}
	if need := (height-1)*rowPitch + rowBytes; len(src) < need {
		return nil, fmt.Errorf("mapped surface too small: %d bytes, need %d", len(src), need)
	}

	var swap bool
	switch format {
	case FormatBGRA8:
		swap = true
	case FormatRGBA8:
	default:
		return nil, fmt.Errorf("unsupported surface format %s", format)
	}

	dst := frameBuffers.get(rowBytes * height)

	if !swap {
		if rowPitch == rowBytes {
			copy(dst, src[:rowBytes*height])
			return dst, nil
		}
		for y := 0; y < height; y++ {
			copy(dst[y*rowBytes:(y+1)*rowBytes], src[y*rowPitch:y*rowPitch+rowBytes])
		}
		return dst, nil
	}

	for y := 0; y < height; y++ {
		s := src[y*rowPitch : y*rowPitch+rowBytes : y*rowPitch+rowBytes]
		d := dst[y*rowBytes : (y+1)*rowBytes : (y+1)*rowBytes]
		for i := 0; i+3 < len(s); i += 4 {
			d[i] = s[i+2]
			d[i+1] = s[i+1]
			d[i+2] = s[i]
			d[i+3] = s[i+3]
		}
	}
	return dst, nil
}
