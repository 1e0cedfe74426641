package jpeg

// Statistics bin layout of the DC and lossless models (T.81 F.1.4.4.1):
// five conditioning contexts of four bins each, then magnitude bins.
const (
	dcMagnitudeBase = 20
	llSmallBase     = 100 // magnitude bins when the difference above is not large
	llLargeBase     = 130
	llStatBins      = 160
)

// arithDecoder implements unitDecoder for arithmetic-coded scans.
type arithDecoder struct {
	t    *tables
	diff bool
	qm   qmDecoder

	dcStats [4][64]uint8
	acStats [4][256]uint8
	llStats [4][llStatBins]uint8
	fixed   uint8

	// dcContext is the conditioning context of the last DC difference of
	// each frame component.
	dcContext [4]int
}

func newArithDecoder(t *tables, f *frame) *arithDecoder {
	return &arithDecoder{t: t, diff: f.differential()}
}

func (d *arithDecoder) restart(seg []byte) {
	d.qm.reset(seg)
	d.dcStats = [4][64]uint8{}
	d.acStats = [4][256]uint8{}
	d.llStats = [4][llStatBins]uint8{}
	d.fixed = qmFixed
	d.dcContext = [4]int{}
}

// finish accepts unread trailing bytes but rejects a segment that ran out
// of data well before its units were decoded.
func (d *arithDecoder) finish() error {
	if d.qm.pad > qmPadLimit {
		return formatError("arithmetic segment ended %d bytes early", d.qm.pad-qmPadLimit)
	}
	return nil
}

// category classifies a difference against the conditioning bounds:
// 0 zero, 1 small positive, 2 small negative, 3 large positive, 4 large
// negative.
func category(v int32, cond byte) int {
	l, u := uint(cond&15), uint(cond>>4)
	a := int64(v)
	if a < 0 {
		a = -a
	}
	switch {
	case 2*a <= int64(1)<<l:
		return 0
	case a > int64(1)<<u:
		if v > 0 {
			return 3
		}
		return 4
	case v > 0:
		return 1
	}
	return 2
}

// magnitude decodes the sign and magnitude of a non-zero difference whose
// sign bin is st[ctx+1], magnitude bins start at base, and limit bounds the
// magnitude category.
func (d *arithDecoder) magnitude(st []uint8, ctx, base int, limit uint32) int32 {
	sign := d.qm.decode(&st[ctx+1])
	p := ctx + 2 + sign
	m := uint32(d.qm.decode(&st[p]))
	if m != 0 {
		p = base
		for d.qm.decode(&st[p]) != 0 {
			m <<= 1
			if m == limit {
				failf("arithmetic magnitude overflow")
			}
			p++
		}
	}
	v := m
	p += 14
	for m >>= 1; m != 0; m >>= 1 {
		if d.qm.decode(&st[p]) != 0 {
			v |= m
		}
	}
	v++
	if sign != 0 {
		return -int32(v)
	}
	return int32(v)
}

func (d *arithDecoder) dc(c *component) int32 {
	st := d.dcStats[c.td][:]
	ctx := d.dcContext[c.idx]
	var v int32
	if d.qm.decode(&st[ctx]) == 0 {
		d.dcContext[c.idx] = 0
	} else {
		v = d.magnitude(st, ctx, dcMagnitudeBase, 0x8000)
		d.dcContext[c.idx] = 4 * category(v, d.t.dcCond[c.td])
	}
	if d.diff {
		return v
	}
	c.dcPred += v
	return c.dcPred
}

// acBand decodes coefficients ss..se of a first (or sequential) scan.
func (d *arithDecoder) acBand(blk []int32, c *component, ss, se, al int) {
	st := d.acStats[c.ta][:]
	kx := int(d.t.acCond[c.ta])
	for k := ss; k <= se; k++ {
		p := 3 * (k - 1)
		if d.qm.decode(&st[p]) != 0 {
			return // EOB
		}
		for d.qm.decode(&st[p+1]) == 0 {
			p += 3
			k++
			if k > se {
				failf("arithmetic AC run beyond band end %d", se)
			}
		}
		sign := d.qm.decode(&d.fixed)
		p += 2
		m := uint32(d.qm.decode(&st[p]))
		if m != 0 {
			if d.qm.decode(&st[p]) != 0 {
				m <<= 1
				p = 189
				if k > kx {
					p = 217
				}
				for d.qm.decode(&st[p]) != 0 {
					m <<= 1
					if m == 0x8000 {
						failf("arithmetic AC magnitude overflow")
					}
					p++
				}
			}
		}
		v := m
		p += 14
		for m >>= 1; m != 0; m >>= 1 {
			if d.qm.decode(&st[p]) != 0 {
				v |= m
			}
		}
		v++
		if sign != 0 {
			blk[k] = -int32(v) << al
		} else {
			blk[k] = int32(v) << al
		}
	}
}

func (d *arithDecoder) sequential(blk []int32, c *component) {
	blk[0] = d.dc(c)
	d.acBand(blk, c, 1, 63, 0)
}

func (d *arithDecoder) dcFirst(blk []int32, c *component, al int) {
	blk[0] = d.dc(c) << al
}

func (d *arithDecoder) dcRefine(blk []int32, _ *component, al int) {
	if d.qm.decode(&d.fixed) != 0 {
		blk[0] |= 1 << al
	}
}

func (d *arithDecoder) acFirst(blk []int32, c *component, ss, se, al int) {
	d.acBand(blk, c, ss, se, al)
}

func (d *arithDecoder) acRefine(blk []int32, c *component, ss, se, al int) {
	st := d.acStats[c.ta][:]
	p1 := int32(1) << al
	m1 := int32(-1) << al

	// kex is the end of band of the previous stage: past it every
	// coefficient is still zero
	kex := se
	for ; kex > 0; kex-- {
		if blk[kex] != 0 {
			break
		}
	}
	for k := ss; k <= se; k++ {
		p := 3 * (k - 1)
		if k > kex && d.qm.decode(&st[p]) != 0 {
			return // EOB
		}
		for {
			if blk[k] != 0 {
				if d.qm.decode(&st[p+2]) != 0 {
					if blk[k] < 0 {
						blk[k] += m1
					} else {
						blk[k] += p1
					}
				}
				break
			}
			if d.qm.decode(&st[p+1]) != 0 {
				if d.qm.decode(&d.fixed) != 0 {
					blk[k] = m1
				} else {
					blk[k] = p1
				}
				break
			}
			p += 3
			k++
			if k > se {
				failf("arithmetic AC refinement beyond band end %d", se)
			}
		}
	}
}

func (d *arithDecoder) lossless(c *component, da, db int32) int32 {
	st := d.llStats[c.td][:]
	cond := d.t.dcCond[c.td]
	ca, cb := category(da, cond), category(db, cond)
	ctx := 4 * (5*ca + cb)
	if d.qm.decode(&st[ctx]) == 0 {
		return 0
	}
	base := llSmallBase
	if cb > 2 {
		base = llLargeBase
	}
	return d.magnitude(st, ctx, base, 0x10000)
}
