package jpeg

import (
	"log/slog"
)

// component is one image channel within a frame.
type component struct {
	idx  int
	id   byte
	h, v int
	tq   int
	td   int // DC (or lossless) table selector of the current scan
	ta   int // AC table selector of the current scan

	width, height int // valid samples at component resolution
	bw, bh        int // plane size in units: blocks for DCT, samples for lossless

	plane []int32
	quant *[64]uint16 // snapshot taken at the first scan that codes this component

	// coefBits tracks successive approximation per coefficient: -1 until a
	// first scan codes it, then the Al of the last scan that did.
	coefBits [64]int8
	dcPred   int32
}

// block returns the 64 coefficients of the block at unit position (x, y).
func (c *component) block(x, y int) []int32 {
	i := (y*c.bw + x) * 64
	return c.plane[i : i+64 : i+64]
}

type frame struct {
	marker    byte
	flags     FrameFlags
	precision int
	width     int
	height    int
	comps     []component

	hmax, vmax   int
	mcusX, mcusY int
	unit         int // 8 for DCT frames, 1 for lossless

	// EXP flags in force for a differential frame
	expandH, expandV bool
}

func (f *frame) lossless() bool { return f.flags&FlagLossless != 0 }
func (f *frame) arithmetic() bool { return f.flags&FlagArithmetic != 0 }
func (f *frame) differential() bool { return f.flags&FlagDifferential != 0 }

// component returns the index of the component with the given id, or -1.
func (f *frame) component(id byte) int {
	for i := range f.comps {
		if f.comps[i].id == id {
			return i
		}
	}
	return -1
}

// parseFrameHeader reads a SOF or DHP body. DHP bodies use the same layout.
func parseFrameHeader(body []byte, m byte) (*frame, error) {
	if len(body) < 6 {
		return nil, formatError("frame header too short (%d bytes)", len(body))
	}
	f := &frame{
		marker:    m,
		precision: int(body[0]),
		height:    int(body[1])<<8 | int(body[2]),
		width:     int(body[3])<<8 | int(body[4]),
	}
	if m != markerDHP {
		f.flags = sofFlags(m)
	}
	nf := int(body[5])
	if nf == 0 || nf > 4 {
		// T.81 allows 255 components; the colour stage knows at most four
		return nil, formatError("frame with %d components", nf)
	}
	if len(body) != 6+3*nf {
		return nil, formatError("frame header length %d does not match %d components", len(body)+2, nf)
	}
	switch {
	case m == markerDHP:
		if f.precision < 2 || f.precision > 16 {
			return nil, formatError("hierarchical precision %d", f.precision)
		}
	case f.lossless():
		if f.precision < 2 || f.precision > 16 {
			return nil, formatError("lossless precision %d", f.precision)
		}
	case m == markerSOF0:
		if f.precision != 8 {
			return nil, formatError("baseline precision %d", f.precision)
		}
	default:
		if f.precision != 8 && f.precision != 12 {
			return nil, formatError("DCT precision %d", f.precision)
		}
	}
	if f.width == 0 {
		return nil, formatError("frame width is zero")
	}
	f.comps = make([]component, nf)
	for i := range f.comps {
		b := body[6+3*i:]
		c := &f.comps[i]
		c.idx = i
		c.id = b[0]
		c.h, c.v = int(b[1]>>4), int(b[1]&15)
		c.tq = int(b[2])
		if c.h < 1 || c.h > 4 || c.v < 1 || c.v > 4 {
			return nil, formatError("component %d sampling %dx%d", c.id, c.h, c.v)
		}
		if c.tq > 3 {
			return nil, formatError("component %d quantization table %d", c.id, c.tq)
		}
		if f.component(c.id) != i {
			return nil, formatError("duplicate component id %d", c.id)
		}
		for k := range c.coefBits {
			c.coefBits[k] = -1
		}
		f.hmax = max(f.hmax, c.h)
		f.vmax = max(f.vmax, c.v)
	}
	f.unit = 8
	if f.lossless() {
		f.unit = 1
	}
	slog.Debug("jpeg: frame header",
		slog.String("marker", markerName(m)),
		slog.String("process", f.flags.String()),
		slog.Int("precision", f.precision),
		slog.Int("width", f.width),
		slog.Int("height", f.height),
		slog.Int("components", nf))
	return f, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// layoutUnits derives the MCU grid and per-component plane sizes. The height
// must be known, either from the frame header or from DNL.
func (f *frame) layoutUnits() error {
	if f.height == 0 {
		return formatError("frame height is zero and no DNL marker defines it")
	}
	u := f.unit
	f.mcusX = ceilDiv(f.width, u*f.hmax)
	f.mcusY = ceilDiv(f.height, u*f.vmax)
	for i := range f.comps {
		c := &f.comps[i]
		c.width = ceilDiv(f.width*c.h, f.hmax)
		c.height = ceilDiv(f.height*c.v, f.vmax)
		c.bw = f.mcusX * c.h
		c.bh = f.mcusY * c.v
	}
	return nil
}

// allocate reserves the coefficient or sample planes of every component.
func (f *frame) allocate(a *arena) error {
	for i := range f.comps {
		c := &f.comps[i]
		per := 64
		if f.lossless() {
			per = 1
		}
		n, err := mul(c.bw, c.bh, per)
		if err != nil {
			return err
		}
		if c.plane, err = a.int32s(n); err != nil {
			return err
		}
	}
	return nil
}

type scanMode int

const (
	modeSequential scanMode = iota
	modeDCFirst
	modeDCRefine
	modeACFirst
	modeACRefine
	modeLossless
)

func (m scanMode) String() string {
	switch m {
	case modeSequential:
		return "sequential"
	case modeDCFirst:
		return "dc-first"
	case modeDCRefine:
		return "dc-refine"
	case modeACFirst:
		return "ac-first"
	case modeACRefine:
		return "ac-refine"
	}
	return "lossless"
}

type scan struct {
	comps  []int // indices into frame.comps, in scan order
	ss, se int   // spectral band, or predictor selection for lossless
	ah, al int
	mode   scanMode
}

// parseScanHeader validates an SOS body against the frame and selects the
// scan mode. Table selectors are written into the frame's components.
func (f *frame) parseScanHeader(body []byte) (*scan, error) {
	if len(body) < 1 {
		return nil, formatError("empty SOS header")
	}
	ns := int(body[0])
	if ns < 1 || ns > 4 || ns > len(f.comps) {
		return nil, formatError("scan with %d components", ns)
	}
	if len(body) != 1+2*ns+3 {
		return nil, formatError("SOS length %d does not match %d components", len(body)+2, ns)
	}
	s := &scan{comps: make([]int, ns)}
	for i := 0; i < ns; i++ {
		ci := f.component(body[1+2*i])
		if ci < 0 {
			return nil, formatError("scan references unknown component %d", body[1+2*i])
		}
		for _, prev := range s.comps[:i] {
			if prev == ci {
				return nil, formatError("scan lists component %d twice", body[1+2*i])
			}
		}
		td, ta := int(body[2+2*i]>>4), int(body[2+2*i]&15)
		if td > 3 || ta > 3 {
			return nil, formatError("scan table selectors %d/%d", td, ta)
		}
		s.comps[i] = ci
		f.comps[ci].td = td
		f.comps[ci].ta = ta
	}
	p := body[1+2*ns:]
	s.ss, s.se = int(p[0]), int(p[1])
	s.ah, s.al = int(p[2]>>4), int(p[2]&15)

	switch {
	case f.lossless():
		if s.ss > 7 || (s.ss == 0 && !f.differential()) {
			return nil, formatError("lossless predictor %d", s.ss)
		}
		if s.ah != 0 || s.al >= f.precision {
			return nil, formatError("lossless point transform %d", s.al)
		}
		s.mode = modeLossless
	case f.flags&FlagProgressive != 0:
		if s.ss > s.se || s.se > 63 {
			return nil, formatError("spectral band %d..%d", s.ss, s.se)
		}
		if s.ss == 0 && s.se != 0 {
			return nil, formatError("progressive DC scan with band 0..%d", s.se)
		}
		if s.ss > 0 && ns != 1 {
			return nil, formatError("progressive AC scan with %d components", ns)
		}
		if s.ah > 13 || s.al > 13 || (s.ah != 0 && s.al != s.ah-1) {
			return nil, formatError("successive approximation Ah=%d Al=%d", s.ah, s.al)
		}
		switch {
		case s.ss == 0 && s.ah == 0:
			s.mode = modeDCFirst
		case s.ss == 0:
			s.mode = modeDCRefine
		case s.ah == 0:
			s.mode = modeACFirst
		default:
			s.mode = modeACRefine
		}
	default:
		if s.ss != 0 || s.se != 63 || s.ah != 0 || s.al != 0 {
			return nil, formatError("sequential scan with Ss=%d Se=%d Ah=%d Al=%d", s.ss, s.se, s.ah, s.al)
		}
		s.mode = modeSequential
	}
	if ns > 1 && !f.lossless() {
		units := 0
		for _, ci := range s.comps {
			units += f.comps[ci].h * f.comps[ci].v
		}
		if units > 10 {
			return nil, formatError("interleaved MCU with %d blocks", units)
		}
	}
	slog.Debug("jpeg: scan header",
		slog.String("mode", s.mode.String()),
		slog.Int("components", ns),
		slog.Int("ss", s.ss), slog.Int("se", s.se),
		slog.Int("ah", s.ah), slog.Int("al", s.al))
	return s, nil
}

// cover records the coefficients a scan codes and rejects scans that code a
// coefficient twice or refine one out of order.
func (f *frame) cover(s *scan) error {
	lo, hi := s.ss, s.se
	if s.mode == modeLossless {
		lo, hi = 0, 0
	}
	for _, ci := range s.comps {
		c := &f.comps[ci]
		if s.mode == modeACFirst || s.mode == modeACRefine {
			if c.coefBits[0] < 0 {
				return formatError("AC scan of component %d before its DC scan", c.id)
			}
		}
		for k := lo; k <= hi; k++ {
			switch {
			case s.ah == 0 && c.coefBits[k] >= 0:
				return formatError("component %d coefficient %d coded twice", c.id, k)
			case s.ah != 0 && int(c.coefBits[k]) != s.ah:
				return formatError("component %d coefficient %d refined out of order", c.id, k)
			}
			c.coefBits[k] = int8(s.al)
		}
	}
	return nil
}

// covered reports whether every coefficient of every component reached full
// precision.
func (f *frame) covered() error {
	for i := range f.comps {
		c := &f.comps[i]
		if f.lossless() {
			if c.coefBits[0] < 0 {
				return formatError("component %d has no scan", c.id)
			}
			continue
		}
		for k, b := range c.coefBits {
			if b != 0 {
				return formatError("component %d coefficient %d incomplete", c.id, k)
			}
		}
	}
	return nil
}
