package jpeg

// losslessScan reconstructs samples of a lossless scan from decoded
// differences. Samples are kept modulo 2^16 before the point transform.
type losslessScan struct {
	predictor int
	initial   int32 // prediction for the first sample of an interval
	diffFrame bool

	// per frame component
	fresh    []bool
	firstRow []int
	diffs    [][]int32 // decoded differences, arithmetic conditioning only
}

func newLosslessScan(f *frame, s *scan, a *arena) (*losslessScan, error) {
	ll := &losslessScan{
		predictor: s.ss,
		initial:   int32(1) << (f.precision - s.al - 1),
		diffFrame: f.differential(),
		fresh:     make([]bool, len(f.comps)),
		firstRow:  make([]int, len(f.comps)),
	}
	if f.arithmetic() {
		ll.diffs = make([][]int32, len(f.comps))
		for _, ci := range s.comps {
			var err error
			if ll.diffs[ci], err = a.int32s(len(f.comps[ci].plane)); err != nil {
				return nil, err
			}
		}
	}
	return ll, nil
}

func (ll *losslessScan) restart() {
	for i := range ll.fresh {
		ll.fresh[i] = true
	}
}

// predict returns the prediction for sample (x, y) of c.
func (ll *losslessScan) predict(c *component, x, y int) int32 {
	if ll.diffFrame {
		return 0
	}
	w := c.bw
	p := c.plane
	switch {
	case ll.fresh[c.idx]:
		return ll.initial
	case y == ll.firstRow[c.idx]:
		return p[y*w+x-1]
	case x == 0:
		return p[(y-1)*w]
	}
	ra := p[y*w+x-1]
	rb := p[(y-1)*w+x]
	rc := p[(y-1)*w+x-1]
	switch ll.predictor {
	case 1:
		return ra
	case 2:
		return rb
	case 3:
		return rc
	case 4:
		return ra + rb - rc
	case 5:
		return ra + (rb-rc)>>1
	case 6:
		return rb + (ra-rc)>>1
	case 7:
		return (ra + rb) >> 1
	}
	return 0
}

// sample decodes and stores sample (x, y) of c.
func (ll *losslessScan) sample(dec unitDecoder, c *component, x, y int) {
	px := ll.predict(c, x, y)
	if ll.fresh[c.idx] {
		ll.fresh[c.idx] = false
		ll.firstRow[c.idx] = y
	}
	w := c.bw
	var da, db int32
	if ll.diffs != nil {
		if x > 0 {
			da = ll.diffs[c.idx][y*w+x-1]
		}
		if y > ll.firstRow[c.idx] {
			db = ll.diffs[c.idx][(y-1)*w+x]
		}
	}
	diff := dec.lossless(c, da, db)
	if ll.diffs != nil {
		ll.diffs[c.idx][y*w+x] = diff
	}
	c.plane[y*w+x] = (px + diff) & 0xFFFF
}
