package jpeg

import "math"

// tap locates the two source samples of one output phase. The output is
// (256-w)*src[off] + w*src[off+1], scaled by 1/256.
type tap struct {
	off int
	w   int64
}

// upTaps[h-1][hmax-1] holds one centre-aligned tap per output phase for a
// component sampled h times in an MCU hmax samples wide.
var upTaps [4][4][]tap

func init() {
	for h := 1; h <= 4; h++ {
		for m := h; m <= 4; m++ {
			taps := make([]tap, m)
			for p := range taps {
				o := (float64(p)+0.5)*float64(h)/float64(m) - 0.5
				i0 := math.Floor(o)
				w := int64(math.Round((o - i0) * 256))
				if w == 256 {
					i0++
					w = 0
				}
				taps[p] = tap{off: int(i0), w: w}
			}
			upTaps[h-1][m-1] = taps
		}
	}
}

func clampIndex(i, n int) int {
	return min(max(i, 0), n-1)
}

// upsampleRow writes output row y of plane p, bilinearly interpolated to
// full resolution, into out.
func upsampleRow(p *samplePlane, h, hmax, v, vmax, y int, out []int32) {
	tv := upTaps[v-1][vmax-1][y%vmax]
	sy := (y/vmax)*v + tv.off
	r0 := p.pix[clampIndex(sy, p.h)*p.stride:]
	r1 := p.pix[clampIndex(sy+1, p.h)*p.stride:]
	if h == hmax {
		for x := range out {
			xi := clampIndex(x, p.w)
			out[x] = int32(((256-tv.w)*int64(r0[xi]) + tv.w*int64(r1[xi]) + 128) >> 8)
		}
		return
	}
	th := upTaps[h-1][hmax-1]
	for x := range out {
		t := th[x%hmax]
		sx := (x/hmax)*h + t.off
		x0, x1 := clampIndex(sx, p.w), clampIndex(sx+1, p.w)
		top := (256-t.w)*int64(r0[x0]) + t.w*int64(r0[x1])
		bot := (256-t.w)*int64(r1[x0]) + t.w*int64(r1[x1])
		out[x] = int32(((256-tv.w)*top + tv.w*bot + 32768) >> 16)
	}
}
