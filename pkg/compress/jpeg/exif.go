package jpeg

import (
	"image"
)

const (
	tagOrientation    = 0x0112
	typeUnsignedShort = 3
)

// tiffReader reads integers from a TIFF structure in its declared byte
// order. Out-of-range reads return 0.
type tiffReader struct {
	data         []byte
	littleEndian bool
}

func (r *tiffReader) uint16(off int) uint16 {
	if off < 0 || off+1 >= len(r.data) {
		return 0
	}
	if r.littleEndian {
		return uint16(r.data[off]) | uint16(r.data[off+1])<<8
	}
	return uint16(r.data[off])<<8 | uint16(r.data[off+1])
}

func (r *tiffReader) uint32(off int) uint32 {
	if off < 0 || off+3 >= len(r.data) {
		return 0
	}
	if r.littleEndian {
		return uint32(r.data[off]) | uint32(r.data[off+1])<<8 | uint32(r.data[off+2])<<16 | uint32(r.data[off+3])<<24
	}
	return uint32(r.data[off])<<24 | uint32(r.data[off+1])<<16 | uint32(r.data[off+2])<<8 | uint32(r.data[off+3])
}

// exifOrientation extracts the orientation tag from an APP1 body
// ("Exif\0\0" + TIFF). It returns the tag value minus one (0..7), or 0 when
// the tag is absent or malformed.
func exifOrientation(body []byte) int {
	if len(body) < 6+8 {
		return 0
	}
	r := &tiffReader{data: body[6:]}
	switch string(r.data[:2]) {
	case "II":
		r.littleEndian = true
	case "MM":
	default:
		return 0
	}
	if r.uint16(2) != 42 {
		return 0
	}
	ifd := int(r.uint32(4))
	if ifd < 8 || ifd+2 > len(r.data) {
		return 0
	}
	n := int(r.uint16(ifd))
	for i := 0; i < n; i++ {
		e := ifd + 2 + 12*i
		if e+12 > len(r.data) {
			break
		}
		if r.uint16(e) != tagOrientation {
			continue
		}
		if r.uint16(e+2) != typeUnsignedShort || r.uint32(e+4) != 1 {
			return 0
		}
		if o := int(r.uint16(e + 8)); o >= 1 && o <= 8 {
			return o - 1
		}
		return 0
	}
	return 0
}

// orient returns img transformed for display according to an orientation
// code 0..7. Codes 4..7 swap width and height.
func orient(img *image.NRGBA64, code int) *image.NRGBA64 {
	if code <= 0 || code > 7 {
		return img
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	dw, dh := w, h
	if code >= 4 {
		dw, dh = h, w
	}
	dst := image.NewNRGBA64(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch code {
			case 1: // mirror horizontal
				dx, dy = w-1-x, y
			case 2: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 3: // mirror vertical
				dx, dy = x, h-1-y
			case 4: // transpose
				dx, dy = y, x
			case 5: // rotate 90 clockwise
				dx, dy = h-1-y, x
			case 6: // transverse
				dx, dy = h-1-y, w-1-x
			case 7: // rotate 90 counter-clockwise
				dx, dy = y, w-1-x
			}
			si := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+8], img.Pix[si:si+8])
		}
	}
	return dst
}
