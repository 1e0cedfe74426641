package jpeg

// huffDecoder implements unitDecoder for Huffman-coded scans.
type huffDecoder struct {
	t      *tables
	diff   bool // differential frame: DC differences are not predicted
	br     bitReader
	eobrun int
}

func newHuffDecoder(t *tables, f *frame) *huffDecoder {
	return &huffDecoder{t: t, diff: f.differential()}
}

func (h *huffDecoder) restart(seg []byte) {
	h.br.reset(seg)
	h.eobrun = 0
}

func (h *huffDecoder) finish() error {
	if n := h.br.remaining(); n > 0 {
		return formatError("%d unconsumed bytes at the end of a restart interval", n)
	}
	return nil
}

func (h *huffDecoder) decode(tr *huffTrie) int {
	if tr == nil {
		failf("scan uses an undefined Huffman table")
	}
	n := 0
	for {
		e := tr.nodes[n][h.br.readBit()]
		if e >= 0 {
			return int(e)
		}
		if e == trieInvalid {
			failf("invalid Huffman code")
		}
		n = int(-e)
	}
}

// dc decodes the DC coefficient of a block before the point transform.
func (h *huffDecoder) dc(c *component) int32 {
	s := h.decode(h.t.dc[c.td])
	if s > 15 {
		failf("DC magnitude category %d", s)
	}
	v := extend(h.br.readBits(s), s)
	if h.diff {
		return v
	}
	c.dcPred += v
	return c.dcPred
}

func (h *huffDecoder) sequential(blk []int32, c *component) {
	blk[0] = h.dc(c)
	ac := h.t.ac[c.ta]
	for k := 1; k < 64; k++ {
		rs := h.decode(ac)
		r, s := rs>>4, rs&15
		if s == 0 {
			if r != 15 {
				return
			}
			k += 15
			continue
		}
		k += r
		if k > 63 {
			failf("AC coefficient index %d out of range", k)
		}
		blk[k] = extend(h.br.readBits(s), s)
	}
}

func (h *huffDecoder) dcFirst(blk []int32, c *component, al int) {
	blk[0] = h.dc(c) << al
}

func (h *huffDecoder) dcRefine(blk []int32, _ *component, al int) {
	if h.br.readBit() != 0 {
		blk[0] |= 1 << al
	}
}

func (h *huffDecoder) acFirst(blk []int32, c *component, ss, se, al int) {
	if h.eobrun > 0 {
		h.eobrun--
		return
	}
	ac := h.t.ac[c.ta]
	for k := ss; k <= se; k++ {
		rs := h.decode(ac)
		r, s := rs>>4, rs&15
		if s == 0 {
			if r < 15 {
				h.eobrun = 1<<r - 1
				if r > 0 {
					h.eobrun += h.br.readBits(r)
				}
				return
			}
			k += 15
			continue
		}
		k += r
		if k > se {
			failf("AC coefficient index %d beyond band end %d", k, se)
		}
		blk[k] = extend(h.br.readBits(s), s) << al
	}
}

// acRefine adds one bit of precision to the band, interleaving correction
// bits for already non-zero coefficients with newly significant ones.
func (h *huffDecoder) acRefine(blk []int32, c *component, ss, se, al int) {
	p1 := int32(1) << al
	m1 := int32(-1) << al
	k := ss
	if h.eobrun == 0 {
		ac := h.t.ac[c.ta]
		for ; k <= se; k++ {
			rs := h.decode(ac)
			r, s := rs>>4, rs&15
			var v int32
			switch s {
			case 0:
				if r < 15 {
					h.eobrun = 1 << r
					if r > 0 {
						h.eobrun += h.br.readBits(r)
					}
					break
				}
			case 1:
				v = p1
				if h.br.readBit() == 0 {
					v = m1
				}
			default:
				failf("AC refinement magnitude %d", s)
			}
			if h.eobrun > 0 {
				break
			}
			for ; k <= se; k++ {
				if blk[k] != 0 {
					h.refine(blk, k, p1, m1)
					continue
				}
				if r == 0 {
					if v != 0 {
						blk[k] = v
					}
					break
				}
				r--
			}
			if k > se && (v != 0 || r > 0) {
				failf("AC refinement overruns band end %d", se)
			}
		}
	}
	if h.eobrun > 0 {
		for ; k <= se; k++ {
			if blk[k] != 0 {
				h.refine(blk, k, p1, m1)
			}
		}
		h.eobrun--
	}
}

// refine applies one correction bit to a coefficient that is already
// non-zero.
func (h *huffDecoder) refine(blk []int32, k int, p1, m1 int32) {
	if h.br.readBit() == 0 || blk[k]&p1 != 0 {
		return
	}
	if blk[k] >= 0 {
		blk[k] += p1
	} else {
		blk[k] += m1
	}
}

func (h *huffDecoder) lossless(c *component, _, _ int32) int32 {
	s := h.decode(h.t.dc[c.td])
	switch {
	case s > 16:
		failf("lossless difference category %d", s)
	case s == 16:
		return 32768
	}
	return extend(h.br.readBits(s), s)
}
