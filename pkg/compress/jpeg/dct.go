package jpeg

import "math"

// dctBasis[u][x] = C(u)/2 * cos((2x+1)uπ/16), C(0) = 1/√2, C(u>0) = 1.
var dctBasis [8][8]float64

func init() {
	for u := 0; u < 8; u++ {
		cu := 1.0
		if u == 0 {
			cu = math.Sqrt2 / 2
		}
		for x := 0; x < 8; x++ {
			dctBasis[u][x] = cu / 2 * math.Cos(float64(2*x+1)*float64(u)*math.Pi/16)
		}
	}
}

// idct8x8 computes the exact separable inverse DCT of in (natural order,
// dequantized) into out.
func idct8x8(in, out *[64]float64) {
	var tmp [64]float64
	for v := 0; v < 8; v++ {
		for x := 0; x < 8; x++ {
			s := 0.0
			for u := 0; u < 8; u++ {
				s += dctBasis[u][x] * in[v*8+u]
			}
			tmp[v*8+x] = s
		}
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			s := 0.0
			for v := 0; v < 8; v++ {
				s += dctBasis[v][y] * tmp[v*8+x]
			}
			out[y*8+x] = s
		}
	}
}

// fdct8x8 computes the exact separable forward DCT of in (natural order,
// level shifted) into out.
func fdct8x8(in, out *[64]float64) {
	var tmp [64]float64
	for y := 0; y < 8; y++ {
		for u := 0; u < 8; u++ {
			s := 0.0
			for x := 0; x < 8; x++ {
				s += dctBasis[u][x] * in[y*8+x]
			}
			tmp[y*8+u] = s
		}
	}
	for v := 0; v < 8; v++ {
		for u := 0; u < 8; u++ {
			s := 0.0
			for y := 0; y < 8; y++ {
				s += dctBasis[v][y] * tmp[y*8+u]
			}
			out[v*8+u] = s
		}
	}
}

// samplePlane is a raster of reconstructed samples at component resolution.
type samplePlane struct {
	w, h   int // valid size
	stride int
	pix    []int32
}

func (p *samplePlane) at(x, y int) int32 {
	return p.pix[y*p.stride+x]
}

// reconstruct turns the coefficient planes of a DCT frame into sample
// planes. Non-differential frames are level shifted and clamped to the
// sample range; differential frames yield signed residuals.
func reconstruct(f *frame, a *arena) ([]samplePlane, error) {
	planes := make([]samplePlane, len(f.comps))
	shift := float64(int32(1) << (f.precision - 1))
	maxv := float64(int32(1)<<f.precision - 1)
	var in, out [64]float64
	for i := range f.comps {
		c := &f.comps[i]
		stride := c.bw * 8
		n, err := mul(stride, c.bh*8)
		if err != nil {
			return nil, err
		}
		pix, err := a.int32s(n)
		if err != nil {
			return nil, err
		}
		q := c.quant
		for by := 0; by < c.bh; by++ {
			for bx := 0; bx < c.bw; bx++ {
				blk := c.block(bx, by)
				for k, v := range blk {
					in[zigzag[k]] = float64(v) * float64(q[k])
				}
				idct8x8(&in, &out)
				base := by*8*stride + bx*8
				for y := 0; y < 8; y++ {
					row := pix[base+y*stride : base+y*stride+8]
					for x := range row {
						s := out[y*8+x]
						if !f.differential() {
							s = min(max(s+shift, 0), maxv)
						}
						row[x] = int32(math.Floor(s + 0.5))
					}
				}
			}
		}
		planes[i] = samplePlane{w: c.width, h: c.height, stride: stride, pix: pix}
	}
	return planes, nil
}

// losslessPlanes exposes the sample grids of a lossless frame after
// undoing the point transform each component was coded with.
func losslessPlanes(f *frame) []samplePlane {
	planes := make([]samplePlane, len(f.comps))
	mask := int32(1)<<f.precision - 1
	if f.differential() {
		mask = 0xFFFF
	}
	for i := range f.comps {
		c := &f.comps[i]
		pt := int(c.coefBits[0])
		for j, v := range c.plane {
			c.plane[j] = (v << pt) & mask
		}
		planes[i] = samplePlane{w: c.width, h: c.height, stride: c.bw, pix: c.plane}
	}
	return planes
}
