package jpeg

import (
	"log/slog"
)

// mcuStep is one coding unit (block or sample) within an MCU.
type mcuStep struct {
	comp   int // index into frame.comps
	dx, dy int // unit offset within the component's part of the MCU
}

// mcuPlan describes the traversal order of one scan.
type mcuPlan struct {
	steps       []mcuStep
	cols, rows  int // MCU grid
	interleaved bool
}

func newMCUPlan(f *frame, s *scan) *mcuPlan {
	if len(s.comps) == 1 {
		c := &f.comps[s.comps[0]]
		return &mcuPlan{
			steps: []mcuStep{{comp: s.comps[0]}},
			cols:  ceilDiv(c.width, f.unit),
			rows:  ceilDiv(c.height, f.unit),
		}
	}
	p := &mcuPlan{cols: f.mcusX, rows: f.mcusY, interleaved: true}
	for _, ci := range s.comps {
		c := &f.comps[ci]
		for dy := 0; dy < c.v; dy++ {
			for dx := 0; dx < c.h; dx++ {
				p.steps = append(p.steps, mcuStep{comp: ci, dx: dx, dy: dy})
			}
		}
	}
	return p
}

func (p *mcuPlan) total() int {
	return p.cols * p.rows
}

// unit returns the plane coordinates of step st within MCU number mcu.
func (p *mcuPlan) unit(f *frame, mcu int, st mcuStep) (x, y int) {
	mx, my := mcu%p.cols, mcu/p.cols
	if !p.interleaved {
		return mx, my
	}
	c := &f.comps[st.comp]
	return mx*c.h + st.dx, my*c.v + st.dy
}

// groups returns the number of restart intervals for interval ri (0 means
// a single interval covering the scan).
func (p *mcuPlan) groups(ri int) int {
	if ri == 0 {
		return 1
	}
	return ceilDiv(p.total(), ri)
}

// group returns the first MCU and MCU count of restart interval g.
func (p *mcuPlan) group(ri, g int) (start, count int) {
	if ri == 0 {
		return 0, p.total()
	}
	start = g * ri
	return start, min(ri, p.total()-start)
}

// unitDecoder is implemented by the Huffman and arithmetic entropy decoders.
// Methods signal corrupt data by panicking with a decodeError.
type unitDecoder interface {
	restart(seg []byte)
	sequential(blk []int32, c *component)
	dcFirst(blk []int32, c *component, al int)
	dcRefine(blk []int32, c *component, al int)
	acFirst(blk []int32, c *component, ss, se, al int)
	acRefine(blk []int32, c *component, ss, se, al int)
	// lossless decodes one sample difference; da and db are the differences
	// to the left and above, used only for arithmetic conditioning.
	lossless(c *component, da, db int32) int32
	// finish checks the segment was consumed after a restart interval.
	finish() error
}

// runScan decodes every restart interval of one scan into the frame planes.
func (d *decoder) runScan(f *frame, s *scan, sl ScanLayout) (err error) {
	defer func() {
		if r := recover(); r != nil {
			de, ok := r.(decodeError)
			if !ok {
				panic(r)
			}
			err = de.error
		}
	}()

	plan := newMCUPlan(f, s)
	ri := d.tables.restart
	if n := plan.groups(ri); len(sl.Segments) != n {
		return formatError("scan at offset %d has %d restart intervals, expected %d", sl.Offset, len(sl.Segments), n)
	}
	var dec unitDecoder
	if f.arithmetic() {
		dec = newArithDecoder(d.tables, f)
	} else {
		dec = newHuffDecoder(d.tables, f)
	}
	var ll *losslessScan
	if s.mode == modeLossless {
		if ll, err = newLosslessScan(f, s, d.arena); err != nil {
			return err
		}
	}
	slog.Debug("jpeg: decoding scan",
		slog.String("mode", s.mode.String()),
		slog.Int("mcus", plan.total()),
		slog.Int("intervals", len(sl.Segments)))

	for g, seg := range sl.Segments {
		start, count := plan.group(ri, g)
		dec.restart(d.data[seg.Offset : seg.Offset+seg.Length])
		for _, ci := range s.comps {
			f.comps[ci].dcPred = 0
		}
		if ll != nil {
			ll.restart()
		}
		for mcu := start; mcu < start+count; mcu++ {
			for _, st := range plan.steps {
				c := &f.comps[st.comp]
				x, y := plan.unit(f, mcu, st)
				switch s.mode {
				case modeLossless:
					ll.sample(dec, c, x, y)
				case modeSequential:
					dec.sequential(c.block(x, y), c)
				case modeDCFirst:
					dec.dcFirst(c.block(x, y), c, s.al)
				case modeDCRefine:
					dec.dcRefine(c.block(x, y), c, s.al)
				case modeACFirst:
					dec.acFirst(c.block(x, y), c, s.ss, s.se, s.al)
				case modeACRefine:
					dec.acRefine(c.block(x, y), c, s.ss, s.se, s.al)
				}
			}
		}
		if err := dec.finish(); err != nil {
			return err
		}
	}
	return nil
}
