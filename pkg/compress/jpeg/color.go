package jpeg

import (
	"bytes"
	"math"
)

// colorModel is the interpretation of a frame's components.
type colorModel int

const (
	colorGray colorModel = iota
	colorGrayAlpha
	colorRGB
	colorBGR
	colorYCbCr
	colorCbYCr
	colorRGBA
	colorABGR
	colorYCbCrK
	colorYCbCrKAdobe
	colorCMYK
	colorCMYKAdobe
)

var colorNames = [...]string{
	colorGray:        "gray",
	colorGrayAlpha:   "gray+alpha",
	colorRGB:         "RGB",
	colorBGR:         "BGR",
	colorYCbCr:       "YCbCr",
	colorCbYCr:       "CbYCr",
	colorRGBA:        "RGBA",
	colorABGR:        "ABGR",
	colorYCbCrK:      "YCbCrK",
	colorYCbCrKAdobe: "YCbCrK (Adobe)",
	colorCMYK:        "CMYK",
	colorCMYKAdobe:   "CMYK (Adobe)",
}

func (m colorModel) String() string {
	return colorNames[m]
}

// adobeTransform values of the APP14 marker; -1 when absent.
const (
	adobeNone   = -1
	adobeRGB    = 0
	adobeYCbCr  = 1
	adobeYCbCrK = 2
)

// chooseColorModel applies the decision table over component count,
// component ids and the JFIF/Adobe markers.
func chooseColorModel(ids []byte, jfif bool, adobe int) (colorModel, error) {
	is := func(s string) bool { return bytes.Equal(ids, []byte(s)) }
	switch len(ids) {
	case 1:
		return colorGray, nil
	case 2:
		return colorGrayAlpha, nil
	case 3:
		switch {
		case adobe == adobeRGB:
			if is("BGR") {
				return colorBGR, nil
			}
			return colorRGB, nil
		case adobe == adobeYCbCr, jfif:
			return colorYCbCr, nil
		case adobe != adobeNone:
			return 0, formatError("Adobe transform %d for 3 components", adobe)
		case is("RGB"):
			return colorRGB, nil
		case is("BGR"):
			return colorBGR, nil
		case is("\x01\x02\x03"), is("\x00\x01\x02"):
			return colorYCbCr, nil
		case is("\x02\x01\x03"):
			return colorCbYCr, nil
		}
	case 4:
		switch {
		case adobe == adobeYCbCrK:
			return colorYCbCrKAdobe, nil
		case adobe == adobeRGB:
			return colorCMYKAdobe, nil
		case adobe != adobeNone:
			return 0, formatError("Adobe transform %d for 4 components", adobe)
		case is("RGBA"):
			return colorRGBA, nil
		case is("ABGR"):
			return colorABGR, nil
		case is("CMYK"):
			return colorCMYK, nil
		case is("\x01\x02\x03\x04"):
			return colorYCbCrK, nil
		}
	}
	return 0, formatError("cannot interpret %d components with ids %v", len(ids), ids)
}

// BT.601 full-range coefficients.
const (
	kr = 0.299
	kb = 0.114
	kg = 1 - kr - kb

	crToR = 2 * (1 - kr)
	cbToB = 2 * (1 - kb)
	cbToG = 2 * kb * (1 - kb) / kg
	crToG = 2 * kr * (1 - kr) / kg
)

// colorTransfer converts rows of P-bit samples to 16-bit NRGBA pixels.
type colorTransfer struct {
	model  colorModel
	maxv   int32
	center float64
}

func newColorTransfer(m colorModel, precision int) *colorTransfer {
	return &colorTransfer{
		model:  m,
		maxv:   int32(1)<<precision - 1,
		center: float64(int32(1) << (precision - 1)),
	}
}

// to16 scales a P-bit sample to 16 bits.
func (t *colorTransfer) to16(v int32) uint16 {
	v = min(max(v, 0), t.maxv)
	return uint16((int64(v)*65535 + int64(t.maxv)/2) / int64(t.maxv))
}

func (t *colorTransfer) clamp(v float64) int32 {
	return int32(min(max(math.Floor(v+0.5), 0), float64(t.maxv)))
}

func (t *colorTransfer) ycc(y, cb, cr int32) (r, g, b int32) {
	fy := float64(y)
	fcb := float64(cb) - t.center
	fcr := float64(cr) - t.center
	return t.clamp(fy + crToR*fcr), t.clamp(fy - cbToG*fcb - crToG*fcr), t.clamp(fy + cbToB*fcb)
}

// ink applies a black channel: plain values darken with k, Adobe-inverted
// values keep the ink inverted.
func (t *colorTransfer) ink(v, k int32, inverted bool) int32 {
	if !inverted {
		k = t.maxv - k
	}
	return int32((int64(v)*int64(k) + int64(t.maxv)/2) / int64(t.maxv))
}

// row converts one output row. rows[i] holds the upsampled samples of
// component i; pix receives 8 bytes per pixel.
func (t *colorTransfer) row(rows [][]int32, pix []byte) {
	for x := range rows[0] {
		var r, g, b int32
		a := t.maxv
		switch t.model {
		case colorGray:
			r, g, b = rows[0][x], rows[0][x], rows[0][x]
		case colorGrayAlpha:
			r, g, b, a = rows[0][x], rows[0][x], rows[0][x], rows[1][x]
		case colorRGB:
			r, g, b = rows[0][x], rows[1][x], rows[2][x]
		case colorBGR:
			r, g, b = rows[2][x], rows[1][x], rows[0][x]
		case colorYCbCr:
			r, g, b = t.ycc(rows[0][x], rows[1][x], rows[2][x])
		case colorCbYCr:
			r, g, b = t.ycc(rows[1][x], rows[0][x], rows[2][x])
		case colorRGBA:
			r, g, b, a = rows[0][x], rows[1][x], rows[2][x], rows[3][x]
		case colorABGR:
			a, b, g, r = rows[0][x], rows[1][x], rows[2][x], rows[3][x]
		case colorYCbCrK, colorYCbCrKAdobe:
			inv := t.model == colorYCbCrKAdobe
			r, g, b = t.ycc(rows[0][x], rows[1][x], rows[2][x])
			k := rows[3][x]
			r, g, b = t.ink(r, k, inv), t.ink(g, k, inv), t.ink(b, k, inv)
		case colorCMYK:
			k := rows[3][x]
			r = t.ink(t.maxv-rows[0][x], k, false)
			g = t.ink(t.maxv-rows[1][x], k, false)
			b = t.ink(t.maxv-rows[2][x], k, false)
		case colorCMYKAdobe:
			k := rows[3][x]
			r = t.ink(rows[0][x], k, true)
			g = t.ink(rows[1][x], k, true)
			b = t.ink(rows[2][x], k, true)
		}
		p := pix[x*8 : x*8+8 : x*8+8]
		put16(p[0:], t.to16(r))
		put16(p[2:], t.to16(g))
		put16(p[4:], t.to16(b))
		put16(p[6:], t.to16(a))
	}
}

func put16(p []byte, v uint16) {
	p[0] = byte(v >> 8)
	p[1] = byte(v)
}
