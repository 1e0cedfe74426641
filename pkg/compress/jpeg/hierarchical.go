package jpeg

import (
	"log/slog"
)

// expandedAt samples the reference plane p as if it had been upsampled by
// two in the flagged directions with the linear filter of T.81 J.1.1.2:
// even positions copy, odd positions average with the next sample.
func expandedAt(p *samplePlane, x, y int, eh, ev bool) int32 {
	row := func(yy int) int32 {
		if !eh {
			return p.at(x, yy)
		}
		i := x >> 1
		if x&1 == 0 {
			return p.at(i, yy)
		}
		return (p.at(i, yy) + p.at(min(i+1, p.w-1), yy)) >> 1
	}
	if !ev {
		return row(y)
	}
	j := y >> 1
	if y&1 == 0 {
		return row(j)
	}
	return (row(j) + row(min(j+1, p.h-1))) >> 1
}

// accumulate adds a differential frame's residual plane to the (optionally
// expanded) reference plane. DCT sums are clamped to the sample range,
// lossless sums wrap modulo 2^16.
func accumulate(ref, res *samplePlane, eh, ev, lossless bool, maxv int32, a *arena) (samplePlane, error) {
	rw, rh := ref.w, ref.h
	if eh {
		rw *= 2
	}
	if ev {
		rh *= 2
	}
	if res.w > rw || res.h > rh || (!eh && res.w != rw) || (!ev && res.h != rh) {
		return samplePlane{}, dataError("differential plane %dx%d does not fit reference %dx%d", res.w, res.h, rw, rh)
	}
	n, err := mul(res.w, res.h)
	if err != nil {
		return samplePlane{}, err
	}
	pix, err := a.int32s(n)
	if err != nil {
		return samplePlane{}, err
	}
	for y := 0; y < res.h; y++ {
		for x := 0; x < res.w; x++ {
			v := expandedAt(ref, x, y, eh, ev) + res.at(x, y)
			if lossless {
				v &= 0xFFFF
			} else {
				v = min(max(v, 0), maxv)
			}
			pix[y*res.w+x] = v
		}
	}
	return samplePlane{w: res.w, h: res.h, stride: res.w, pix: pix}, nil
}

// decodeHierarchical decodes every frame of a DHP image and accumulates
// the differential frames into the final component planes.
func (d *decoder) decodeHierarchical() (*frame, []samplePlane, error) {
	dhp, err := parseFrameHeader(segmentBody(d.data, d.layout.DHP), markerDHP)
	if err != nil {
		return nil, nil, err
	}
	if err := dhp.layoutUnits(); err != nil {
		return nil, nil, err
	}
	maxv := int32(1)<<dhp.precision - 1
	acc := make([]samplePlane, len(dhp.comps))
	have := make([]bool, len(dhp.comps))
	for _, fl := range d.layout.Frames {
		f, planes, err := d.decodeFrame(fl)
		if err != nil {
			return nil, nil, err
		}
		for i := range f.comps {
			c := &f.comps[i]
			j := dhp.component(c.id)
			if j < 0 {
				return nil, nil, formatError("frame component %d is not declared by DHP", c.id)
			}
			if !f.differential() {
				acc[j], have[j] = planes[i], true
				continue
			}
			if !have[j] {
				return nil, nil, formatError("differential frame for component %d has no reference", c.id)
			}
			if acc[j], err = accumulate(&acc[j], &planes[i], f.expandH, f.expandV, f.lossless(), maxv, d.arena); err != nil {
				return nil, nil, err
			}
		}
		slog.Debug("jpeg: hierarchical frame accumulated",
			slog.String("process", f.flags.String()),
			slog.Int("width", f.width),
			slog.Int("height", f.height),
			slog.Bool("expandH", f.expandH),
			slog.Bool("expandV", f.expandV))
	}
	for j := range dhp.comps {
		c := &dhp.comps[j]
		if !have[j] || acc[j].w != c.width || acc[j].h != c.height {
			return nil, nil, dataError("component %d did not reach its declared %dx%d size", c.id, c.width, c.height)
		}
	}
	return dhp, acc, nil
}
