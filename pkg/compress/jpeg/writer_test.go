package jpeg

import (
	"bytes"
	"image"
	"image/color"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test-only writers for the coding processes the encoder does not produce.
// They share the encoder's quantization so their output can be compared
// against Encode pixel for pixel.

// testComp holds the quantized blocks of one component in zigzag order.
type testComp struct {
	id     byte
	h, v   int
	tq     int
	blocks []int32
	bw, bh int // allocated grid
	gw, gh int // grid of a non-interleaved scan
}

func (c *testComp) block(x, y int) []int32 {
	i := (y*c.bw + x) * 64
	return c.blocks[i : i+64]
}

type testImage struct {
	width, height int
	mcusX, mcusY  int
	quant         [2][64]uint16
	comps         []testComp
}

// newTestImage quantizes img exactly like Encode, or as a single luma
// component when gray is set.
func newTestImage(t *testing.T, img image.Image, quality int, gray bool) *testImage {
	t.Helper()
	a := newArena(0)
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	ti := &testImage{width: w, height: h, quant: quantTables(quality)}
	planes, err := toYCbCr(img, a)
	require.NoError(t, err)

	if gray {
		ti.mcusX, ti.mcusY = ceilDiv(w, 8), ceilDiv(h, 8)
		pad, err := padPlane(planes[0], w, h, 8*ti.mcusX, 8*ti.mcusY, a)
		require.NoError(t, err)
		blocks, err := quantizeBlocks(pad, 8*ti.mcusX, ti.mcusX, ti.mcusY, &ti.quant[0], 128, a)
		require.NoError(t, err)
		ti.comps = []testComp{{
			id: 1, h: 1, v: 1, blocks: blocks,
			bw: ti.mcusX, bh: ti.mcusY, gw: ti.mcusX, gh: ti.mcusY,
		}}
		return ti
	}

	ti.mcusX, ti.mcusY = ceilDiv(w, 16), ceilDiv(h, 16)
	pad, err := padPlane(planes[0], w, h, 16*ti.mcusX, 16*ti.mcusY, a)
	require.NoError(t, err)
	yb, err := quantizeBlocks(pad, 16*ti.mcusX, 2*ti.mcusX, 2*ti.mcusY, &ti.quant[0], 128, a)
	require.NoError(t, err)
	ti.comps = append(ti.comps, testComp{
		id: 1, h: 2, v: 2, blocks: yb,
		bw: 2 * ti.mcusX, bh: 2 * ti.mcusY, gw: ceilDiv(w, 8), gh: ceilDiv(h, 8),
	})
	for i := 1; i <= 2; i++ {
		sub, cw, ch, err := subsample(planes[i], w, h, a)
		require.NoError(t, err)
		cpad, err := padPlane(sub, cw, ch, 8*ti.mcusX, 8*ti.mcusY, a)
		require.NoError(t, err)
		cb, err := quantizeBlocks(cpad, 8*ti.mcusX, ti.mcusX, ti.mcusY, &ti.quant[1], 128, a)
		require.NoError(t, err)
		ti.comps = append(ti.comps, testComp{
			id: byte(1 + i), h: 1, v: 1, tq: 1, blocks: cb,
			bw: ti.mcusX, bh: ti.mcusY, gw: ceilDiv(cw, 8), gh: ceilDiv(ch, 8),
		})
	}
	return ti
}

// visit calls fn for every block of a scan over comps in coding order.
func (ti *testImage) visit(comps []int, fn func(mcu, ci int, blk []int32)) {
	if len(comps) == 1 {
		c := &ti.comps[comps[0]]
		for y := 0; y < c.gh; y++ {
			for x := 0; x < c.gw; x++ {
				fn(y*c.gw+x, comps[0], c.block(x, y))
			}
		}
		return
	}
	for my := 0; my < ti.mcusY; my++ {
		for mx := 0; mx < ti.mcusX; mx++ {
			for _, ci := range comps {
				c := &ti.comps[ci]
				for dy := 0; dy < c.v; dy++ {
					for dx := 0; dx < c.h; dx++ {
						fn(my*ti.mcusX+mx, ci, c.block(mx*c.h+dx, my*c.v+dy))
					}
				}
			}
		}
	}
}

func (ti *testImage) sofBody(precision int) []byte {
	b := []byte{byte(precision), byte(ti.height >> 8), byte(ti.height), byte(ti.width >> 8), byte(ti.width), byte(len(ti.comps))}
	for _, c := range ti.comps {
		b = append(b, c.id, byte(c.h<<4|c.v), byte(c.tq))
	}
	return b
}

// sosBody builds a scan header; each component uses table set tq for both
// its DC and AC selectors.
func (ti *testImage) sosBody(comps []int, ss, se, ah, al int) []byte {
	b := []byte{byte(len(comps))}
	for _, ci := range comps {
		c := &ti.comps[ci]
		b = append(b, c.id, byte(c.tq<<4|c.tq))
	}
	return append(b, byte(ss), byte(se), byte(ah<<4|al))
}

// begin writes SOI, the frame header and the quantization tables.
func (ti *testImage) begin(buf *bytes.Buffer, sof byte) {
	buf.Write([]byte{0xFF, markerSOI})
	writeSegment(buf, sof, ti.sofBody(8))
	for tq := 0; tq < 2 && tq < len(ti.comps); tq++ {
		body := []byte{byte(tq)}
		for _, v := range ti.quant[tq] {
			body = append(body, byte(v))
		}
		writeSegment(buf, markerDQT, body)
	}
}

func writeDHT(buf *bytes.Buffer, enc []*huffEncoder) {
	for i, h := range enc {
		writeSegment(buf, markerDHT, dhtBody(i&1, i>>1, h))
	}
}

// Huffman progressive tokens. Table 2*tq codes DC, 2*tq+1 codes AC.

func (ti *testImage) dcFirstTokens(comps []int, al int) []token {
	var toks []token
	preds := make([]int32, len(ti.comps))
	ti.visit(comps, func(_, ci int, blk []int32) {
		v := blk[0] >> al
		s, b := magnitude(v - preds[ci])
		preds[ci] = v
		toks = append(toks, token{tbl: uint8(2 * ti.comps[ci].tq), sym: uint8(s), nbits: uint8(s), bits: b})
	})
	return toks
}

func (ti *testImage) dcRefineTokens(comps []int, al int) []token {
	var toks []token
	ti.visit(comps, func(_, _ int, blk []int32) {
		toks = append(toks, token{tbl: tokRaw, nbits: 1, bits: uint16(blk[0]>>al) & 1})
	})
	return toks
}

// pointTransform divides a coefficient by 2^al rounding toward zero.
func pointTransform(v int32, al int) int32 {
	if v < 0 {
		return -(-v >> al)
	}
	return v >> al
}

// acFirstTokens codes one band with end-of-band runs spanning blocks.
func (ti *testImage) acFirstTokens(ci, ss, se, al int) []token {
	var toks []token
	tbl := uint8(2*ti.comps[ci].tq + 1)
	eobrun := 0
	flush := func() {
		if eobrun == 0 {
			return
		}
		n := bits.Len(uint(eobrun)) - 1
		toks = append(toks, token{tbl: tbl, sym: uint8(n << 4), nbits: uint8(n), bits: uint16(eobrun & (1<<n - 1))})
		eobrun = 0
	}
	ti.visit([]int{ci}, func(_, _ int, blk []int32) {
		r := 0
		for k := ss; k <= se; k++ {
			v := pointTransform(blk[k], al)
			if v == 0 {
				r++
				continue
			}
			flush()
			for ; r > 15; r -= 16 {
				toks = append(toks, token{tbl: tbl, sym: 0xF0})
			}
			s, b := magnitude(v)
			toks = append(toks, token{tbl: tbl, sym: uint8(r<<4 | s), nbits: uint8(s), bits: b})
			r = 0
		}
		if r > 0 {
			eobrun++
			if eobrun == 0x7FFF {
				flush()
			}
		}
	})
	flush()
	return toks
}

// acRefineTokens refines one band, ending every block with its own EOB.
func (ti *testImage) acRefineTokens(ci, ss, se, al int) []token {
	var toks []token
	tbl := uint8(2*ti.comps[ci].tq + 1)
	ti.visit([]int{ci}, func(_, _ int, blk []int32) {
		abs := func(k int) int32 {
			v := blk[k]
			if v < 0 {
				v = -v
			}
			return v >> al
		}
		eob := 0
		for k := ss; k <= se; k++ {
			if abs(k) == 1 {
				eob = k
			}
		}
		r := 0
		var pending []token
		for k := ss; k <= se; k++ {
			a := abs(k)
			if a == 0 {
				r++
				continue
			}
			for r > 15 && k <= eob {
				toks = append(toks, token{tbl: tbl, sym: 0xF0})
				toks = append(toks, pending...)
				pending = pending[:0]
				r -= 16
			}
			if a > 1 {
				pending = append(pending, token{tbl: tokRaw, nbits: 1, bits: uint16(a & 1)})
				continue
			}
			sign := uint16(1)
			if blk[k] < 0 {
				sign = 0
			}
			toks = append(toks, token{tbl: tbl, sym: uint8(r<<4 | 1), nbits: 1, bits: sign})
			toks = append(toks, pending...)
			pending = pending[:0]
			r = 0
		}
		if r > 0 || len(pending) > 0 {
			toks = append(toks, token{tbl: tbl, sym: 0x00})
			toks = append(toks, pending...)
		}
	})
	return toks
}

// progressiveScript is the scan sequence shared by the Huffman and
// arithmetic progressive writers: DC and AC first passes at Al=1, then
// refinement to full precision. Luma AC is split into two bands.
type progressiveScan struct {
	comps  []int
	ss, se int
	ah, al int
}

func (ti *testImage) progressiveScript() []progressiveScan {
	all := []int{0}
	if len(ti.comps) == 3 {
		all = []int{0, 1, 2}
	}
	script := []progressiveScan{{comps: all, al: 1}}
	script = append(script, progressiveScan{comps: []int{0}, ss: 1, se: 5, al: 1})
	script = append(script, progressiveScan{comps: []int{0}, ss: 6, se: 63, al: 1})
	for _, ci := range all[1:] {
		script = append(script, progressiveScan{comps: []int{ci}, ss: 1, se: 63, al: 1})
	}
	script = append(script, progressiveScan{comps: all, ah: 1})
	script = append(script, progressiveScan{comps: []int{0}, ss: 1, se: 5, ah: 1})
	script = append(script, progressiveScan{comps: []int{0}, ss: 6, se: 63, ah: 1})
	for _, ci := range all[1:] {
		script = append(script, progressiveScan{comps: []int{ci}, ss: 1, se: 63, ah: 1})
	}
	return script
}

// huffmanProgressive writes a SOF2 stream of ti.
func (ti *testImage) huffmanProgressive(t *testing.T) []byte {
	t.Helper()
	script := ti.progressiveScript()
	scans := make([][]token, len(script))
	for i, s := range script {
		switch {
		case s.ss == 0 && s.ah == 0:
			scans[i] = ti.dcFirstTokens(s.comps, s.al)
		case s.ss == 0:
			scans[i] = ti.dcRefineTokens(s.comps, s.al)
		case s.ah == 0:
			scans[i] = ti.acFirstTokens(s.comps[0], s.ss, s.se, s.al)
		default:
			scans[i] = ti.acRefineTokens(s.comps[0], s.ss, s.se, s.al)
		}
	}
	enc, err := huffmanTables(2*len(ti.quantUsed()), scans...)
	require.NoError(t, err)

	var buf bytes.Buffer
	ti.begin(&buf, markerSOF2)
	writeDHT(&buf, enc)
	for i, s := range script {
		writeSegment(&buf, markerSOS, ti.sosBody(s.comps, s.ss, s.se, s.ah, s.al))
		writeScan(&buf, scans[i], enc)
	}
	buf.Write([]byte{0xFF, markerEOI})
	return buf.Bytes()
}

func (ti *testImage) quantUsed() []int {
	if len(ti.comps) == 1 {
		return []int{0}
	}
	return []int{0, 1}
}

// qmEncoder is the QM arithmetic encoder of T.81 Annex D.
type qmEncoder struct {
	out    *bytes.Buffer
	c, a   uint32
	sc, zc int
	ct     int
	buffer int
}

func (e *qmEncoder) reset(out *bytes.Buffer) {
	*e = qmEncoder{out: out, a: 0x10000, ct: 11, buffer: -1}
}

func (e *qmEncoder) emit(b int) {
	e.out.WriteByte(byte(b))
}

func (e *qmEncoder) emitZeros() {
	for ; e.zc > 0; e.zc-- {
		e.emit(0)
	}
}

func (e *qmEncoder) emitStacked() {
	if e.sc > 0 {
		e.emitZeros()
		for ; e.sc > 0; e.sc-- {
			e.emit(0xFF)
			e.emit(0)
		}
	}
}

func (e *qmEncoder) carry() {
	if e.buffer >= 0 {
		e.emitZeros()
		e.emit(e.buffer + 1)
		if e.buffer+1 == 0xFF {
			e.emit(0)
		}
	}
	e.zc += e.sc
	e.sc = 0
}

func (e *qmEncoder) settle() {
	if e.buffer == 0 {
		e.zc++
	} else if e.buffer >= 0 {
		e.emitZeros()
		e.emit(e.buffer)
	}
	e.emitStacked()
}

func (e *qmEncoder) encode(st *uint8, val int) {
	sv := *st
	s := &qmTable[sv&0x7F]
	e.a -= s.qe
	if val != int(sv>>7) {
		if e.a >= s.qe {
			e.c += e.a
			e.a = s.qe
		}
		*st = s.next(sv, true)
	} else {
		if e.a >= 0x8000 {
			return
		}
		if e.a < s.qe {
			e.c += e.a
			e.a = s.qe
		}
		*st = s.next(sv, false)
	}
	for e.a < 0x8000 {
		e.a <<= 1
		e.c <<= 1
		e.ct--
		if e.ct == 0 {
			temp := int(e.c >> 19)
			switch {
			case temp > 0xFF:
				e.carry()
				e.buffer = temp & 0xFF
			case temp == 0xFF:
				e.sc++
			default:
				e.settle()
				e.buffer = temp & 0xFF
			}
			e.c &= 0x7FFFF
			e.ct += 8
		}
	}
}

func (e *qmEncoder) finish() {
	if temp := (e.a - 1 + e.c) & 0xFFFF0000; temp < e.c {
		e.c = temp + 0x8000
	} else {
		e.c = temp
	}
	e.c <<= uint(e.ct)
	if e.c&0xF8000000 != 0 {
		e.carry()
	} else {
		e.settle()
	}
	if e.c&0x7FFF800 != 0 {
		e.emitZeros()
		b := int(e.c>>19) & 0xFF
		e.emit(b)
		if b == 0xFF {
			e.emit(0)
		}
		if e.c&0x7F800 != 0 {
			b = int(e.c>>11) & 0xFF
			e.emit(b)
			if b == 0xFF {
				e.emit(0)
			}
		}
	}
}

// arithWriter mirrors the statistics models of arithDecoder.
type arithWriter struct {
	qm      qmEncoder
	dcStats [4][64]uint8
	acStats [4][256]uint8
	llStats [4][llStatBins]uint8
	fixed   uint8
	dcCtx   [4]int
	preds   [4]int32
	dcCond  [4]byte
	acCond  [4]byte
}

func newArithWriter() *arithWriter {
	w := &arithWriter{}
	for i := range w.dcCond {
		w.dcCond[i] = 0x10
		w.acCond[i] = 5
	}
	return w
}

func (w *arithWriter) restart(out *bytes.Buffer) {
	w.qm.reset(out)
	w.dcStats = [4][64]uint8{}
	w.acStats = [4][256]uint8{}
	w.llStats = [4][llStatBins]uint8{}
	w.fixed = qmFixed
	w.dcCtx = [4]int{}
	w.preds = [4]int32{}
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// signMagnitude codes a non-zero difference with the DC/lossless model.
func (w *arithWriter) signMagnitude(st []uint8, ctx, base int, v int32) {
	sign := bit(v < 0)
	if v < 0 {
		v = -v
	}
	w.qm.encode(&st[ctx+1], sign)
	p := ctx + 2 + sign
	u := uint32(v - 1)
	m := uint32(0)
	if u != 0 {
		w.qm.encode(&st[p], 1)
		m = 1
		p = base
		for u2 := u >> 1; u2 != 0; u2 >>= 1 {
			w.qm.encode(&st[p], 1)
			m <<= 1
			p++
		}
	}
	w.qm.encode(&st[p], 0)
	p += 14
	for m >>= 1; m != 0; m >>= 1 {
		w.qm.encode(&st[p], bit(u&m != 0))
	}
}

func (w *arithWriter) dc(tbl, ci int, diff int32) {
	st := w.dcStats[tbl][:]
	ctx := w.dcCtx[ci]
	if diff == 0 {
		w.qm.encode(&st[ctx], 0)
		w.dcCtx[ci] = 0
		return
	}
	w.qm.encode(&st[ctx], 1)
	w.signMagnitude(st, ctx, dcMagnitudeBase, diff)
	w.dcCtx[ci] = 4 * category(diff, w.dcCond[tbl])
}

// acFirst codes coefficients ss..se of blk after the point transform.
func (w *arithWriter) acFirst(tbl int, blk []int32, ss, se, al int) {
	st := w.acStats[tbl][:]
	kx := int(w.acCond[tbl])
	ke := se
	for ; ke >= ss; ke-- {
		if pointTransform(blk[ke], al) != 0 {
			break
		}
	}
	k := ss
	for ; k <= ke; k++ {
		p := 3 * (k - 1)
		w.qm.encode(&st[p], 0)
		for pointTransform(blk[k], al) == 0 {
			w.qm.encode(&st[p+1], 0)
			p += 3
			k++
		}
		w.qm.encode(&st[p+1], 1)
		v := pointTransform(blk[k], al)
		w.qm.encode(&w.fixed, bit(v < 0))
		if v < 0 {
			v = -v
		}
		p += 2
		u := uint32(v - 1)
		m := uint32(0)
		if u != 0 {
			w.qm.encode(&st[p], 1)
			m = 1
			if u2 := u >> 1; u2 != 0 {
				w.qm.encode(&st[p], 1)
				m <<= 1
				p = 189
				if k > kx {
					p = 217
				}
				for u2 >>= 1; u2 != 0; u2 >>= 1 {
					w.qm.encode(&st[p], 1)
					m <<= 1
					p++
				}
			}
		}
		w.qm.encode(&st[p], 0)
		p += 14
		for m >>= 1; m != 0; m >>= 1 {
			w.qm.encode(&st[p], bit(u&m != 0))
		}
	}
	if k <= se {
		w.qm.encode(&st[3*(k-1)], 1)
	}
}

func (w *arithWriter) acRefine(tbl int, blk []int32, ss, se, al int) {
	st := w.acStats[tbl][:]
	abs := func(k, sh int) int32 {
		v := blk[k]
		if v < 0 {
			v = -v
		}
		return v >> sh
	}
	ke := se
	for ; ke > 0; ke-- {
		if abs(ke, al) != 0 {
			break
		}
	}
	kex := ke
	for ; kex > 0; kex-- {
		if abs(kex, al+1) != 0 {
			break
		}
	}
	k := ss
	for ; k <= ke; k++ {
		p := 3 * (k - 1)
		if k > kex {
			w.qm.encode(&st[p], 0)
		}
		for {
			if a := abs(k, al); a != 0 {
				if a>>1 != 0 {
					w.qm.encode(&st[p+2], int(a&1))
				} else {
					w.qm.encode(&st[p+1], 1)
					w.qm.encode(&w.fixed, bit(blk[k] < 0))
				}
				break
			}
			w.qm.encode(&st[p+1], 0)
			p += 3
			k++
		}
	}
	if k <= se {
		w.qm.encode(&st[3*(k-1)], 1)
	}
}

func (w *arithWriter) lossless(tbl int, diff, da, db int32) {
	st := w.llStats[tbl][:]
	cond := w.dcCond[tbl]
	ca, cb := category(da, cond), category(db, cond)
	ctx := 4 * (5*ca + cb)
	if diff == 0 {
		w.qm.encode(&st[ctx], 0)
		return
	}
	w.qm.encode(&st[ctx], 1)
	base := llSmallBase
	if cb > 2 {
		base = llLargeBase
	}
	w.signMagnitude(st, ctx, base, diff)
}

// arithScanData codes one DCT scan with restart markers every restart MCUs.
func (ti *testImage) arithScanData(w *arithWriter, s progressiveScan, restart int, sequential bool) []byte {
	var buf bytes.Buffer
	w.restart(&buf)
	last := 0
	ti.visit(s.comps, func(mcu, ci int, blk []int32) {
		if restart > 0 && mcu != last && mcu%restart == 0 {
			w.qm.finish()
			buf.Write([]byte{0xFF, markerRST0 + byte((mcu/restart-1)&7)})
			w.restart(&buf)
		}
		last = mcu
		tbl := ti.comps[ci].tq
		switch {
		case sequential:
			w.dc(tbl, ci, blk[0]-w.preds[ci])
			w.preds[ci] = blk[0]
			w.acFirst(tbl, blk, 1, 63, 0)
		case s.ss == 0 && s.ah == 0:
			v := blk[0] >> s.al
			w.dc(tbl, ci, v-w.preds[ci])
			w.preds[ci] = v
		case s.ss == 0:
			w.qm.encode(&w.fixed, int(blk[0]>>s.al)&1)
		case s.ah == 0:
			w.acFirst(tbl, blk, s.ss, s.se, s.al)
		default:
			w.acRefine(tbl, blk, s.ss, s.se, s.al)
		}
	})
	w.qm.finish()
	return buf.Bytes()
}

// arithSequential writes a SOF9 stream of ti with the same scan structure
// as Encode. dac, when non-nil, is emitted as a DAC body.
func (ti *testImage) arithSequential(restart int, dac []byte) []byte {
	w := newArithWriter()
	var buf bytes.Buffer
	ti.begin(&buf, markerSOF9)
	if dac != nil {
		writeSegment(&buf, markerDAC, dac)
		for i := 0; i+1 < len(dac); i += 2 {
			if dac[i]>>4 == 0 {
				w.dcCond[dac[i]&15] = dac[i+1]
			} else {
				w.acCond[dac[i]&15] = dac[i+1]
			}
		}
	}
	if restart > 0 {
		writeSegment(&buf, markerDRI, []byte{byte(restart >> 8), byte(restart)})
	}
	scans := []progressiveScan{{comps: []int{0}, se: 63}}
	if len(ti.comps) == 3 {
		scans = append(scans, progressiveScan{comps: []int{1, 2}, se: 63})
	}
	for _, s := range scans {
		writeSegment(&buf, markerSOS, ti.sosBody(s.comps, 0, 63, 0, 0))
		buf.Write(ti.arithScanData(w, s, restart, true))
	}
	buf.Write([]byte{0xFF, markerEOI})
	return buf.Bytes()
}

// arithProgressive writes a SOF10 stream of ti.
func (ti *testImage) arithProgressive() []byte {
	w := newArithWriter()
	var buf bytes.Buffer
	ti.begin(&buf, markerSOF10)
	for _, s := range ti.progressiveScript() {
		writeSegment(&buf, markerSOS, ti.sosBody(s.comps, s.ss, s.se, s.ah, s.al))
		buf.Write(ti.arithScanData(w, s, 0, false))
	}
	buf.Write([]byte{0xFF, markerEOI})
	return buf.Bytes()
}

// losslessParams describe a single-component lossless test stream.
type losslessParams struct {
	precision  int
	predictor  int
	pt         int
	restart    int
	arithmetic bool
}

// losslessDiffs returns the coded differences of a w x h raster of samples
// (already point transformed). Predictor 0 codes the samples themselves.
func losslessDiffs(s []int32, w, h int, p losslessParams) []int32 {
	initial := int32(1) << (p.precision - p.pt - 1)
	diffs := make([]int32, w*h)
	fresh, firstRow := true, 0
	for i := range diffs {
		x, y := i%w, i/w
		if p.restart > 0 && i > 0 && i%p.restart == 0 {
			fresh = true
		}
		var px int32
		switch {
		case p.predictor == 0:
		case fresh:
			px, firstRow = initial, y
		case y == firstRow:
			px = s[i-1]
		case x == 0:
			px = s[i-w]
		default:
			ra, rb, rc := s[i-1], s[i-w], s[i-w-1]
			switch p.predictor {
			case 1:
				px = ra
			case 2:
				px = rb
			case 3:
				px = rc
			case 4:
				px = ra + rb - rc
			case 5:
				px = ra + (rb-rc)>>1
			case 6:
				px = rb + (ra-rc)>>1
			case 7:
				px = (ra + rb) >> 1
			}
		}
		fresh = false
		d := (s[i] - px) & 0xFFFF
		if d >= 0x8000 {
			d -= 0x10000
		}
		diffs[i] = d
	}
	return diffs
}

func losslessToken(d int32) token {
	if d == -0x8000 {
		return token{tbl: 0, sym: 16}
	}
	s, b := magnitude(d)
	return token{tbl: 0, sym: uint8(s), nbits: uint8(s), bits: b}
}

// losslessScanData codes differences with Huffman table 0 or the
// arithmetic lossless model.
func losslessScanData(t *testing.T, diffs []int32, w int, p losslessParams) (data []byte, dht []byte) {
	t.Helper()
	var buf bytes.Buffer
	if !p.arithmetic {
		var toks []token
		for i, d := range diffs {
			if p.restart > 0 && i > 0 && i%p.restart == 0 {
				toks = append(toks, token{tbl: tokRestart, sym: uint8((i/p.restart - 1) & 7)})
			}
			toks = append(toks, losslessToken(d))
		}
		enc, err := huffmanTables(1, toks)
		require.NoError(t, err)
		writeScan(&buf, toks, enc)
		return buf.Bytes(), dhtBody(0, 0, enc[0])
	}

	aw := newArithWriter()
	aw.restart(&buf)
	firstRow := 0
	for i, d := range diffs {
		x, y := i%w, i/w
		if p.restart > 0 && i > 0 && i%p.restart == 0 {
			aw.qm.finish()
			buf.Write([]byte{0xFF, markerRST0 + byte((i/p.restart-1)&7)})
			aw.restart(&buf)
			firstRow = y
		}
		var da, db int32
		if x > 0 {
			da = diffs[i-1]
		}
		if y > firstRow {
			db = diffs[i-w]
		}
		aw.lossless(0, d, da, db)
	}
	aw.qm.finish()
	return buf.Bytes(), nil
}

// losslessStream writes a single-component SOF3 or SOF11 image of pix.
func losslessStream(t *testing.T, pix []int32, w, h int, p losslessParams) []byte {
	t.Helper()
	s := make([]int32, len(pix))
	for i, v := range pix {
		s[i] = v >> p.pt
	}
	data, dht := losslessScanData(t, losslessDiffs(s, w, h, p), w, p)

	sof := byte(markerSOF3)
	if p.arithmetic {
		sof = markerSOF11
	}
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, markerSOI})
	writeSegment(&buf, sof, []byte{byte(p.precision), byte(h >> 8), byte(h), byte(w >> 8), byte(w), 1, 1, 0x11, 0})
	if dht != nil {
		writeSegment(&buf, markerDHT, dht)
	}
	if p.restart > 0 {
		writeSegment(&buf, markerDRI, []byte{byte(p.restart >> 8), byte(p.restart)})
	}
	writeSegment(&buf, markerSOS, []byte{1, 1, 0x00, byte(p.predictor), 0, byte(p.pt)})
	buf.Write(data)
	buf.Write([]byte{0xFF, markerEOI})
	return buf.Bytes()
}

// expandPlane doubles a raster in both directions with the EXP filter.
func expandPlane(p []int32, w, h int) []int32 {
	sp := samplePlane{w: w, h: h, stride: w, pix: p}
	out := make([]int32, 4*w*h)
	for y := 0; y < 2*h; y++ {
		for x := 0; x < 2*w; x++ {
			out[y*2*w+x] = expandedAt(&sp, x, y, true, true)
		}
	}
	return out
}

// halve keeps every other sample of a raster.
func halve(p []int32, w, h int) []int32 {
	out := make([]int32, (w/2)*(h/2))
	for y := 0; y < h/2; y++ {
		for x := 0; x < w/2; x++ {
			out[y*(w/2)+x] = p[2*y*w+2*x]
		}
	}
	return out
}

// hierarchicalStream writes a lossless hierarchical gray image of a
// size x size raster (size divisible by 4): a SOF3 frame at a quarter of the
// size followed by two SOF7 differential frames, each expanding by two.
func hierarchicalStream(t *testing.T, pix []int32, size int) []byte {
	t.Helper()
	l1 := halve(pix, size, size)
	l0 := halve(l1, size/2, size/2)

	p := losslessParams{precision: 8, predictor: 1}
	base := losslessDiffs(l0, size/4, size/4, p)
	res1 := make([]int32, len(l1))
	for i, e := range expandPlane(l0, size/4, size/4) {
		res1[i] = l1[i] - e
	}
	res2 := make([]int32, len(pix))
	for i, e := range expandPlane(l1, size/2, size/2) {
		res2[i] = pix[i] - e
	}
	dp := losslessParams{precision: 8}
	frames := [][]int32{base, losslessDiffs(res1, size/2, size/2, dp), losslessDiffs(res2, size, size, dp)}

	var scans [][]token
	for _, diffs := range frames {
		toks := make([]token, len(diffs))
		for i, d := range diffs {
			toks[i] = losslessToken(d)
		}
		scans = append(scans, toks)
	}
	enc, err := huffmanTables(1, scans...)
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.Write([]byte{0xFF, markerSOI})
	writeSegment(&buf, markerDHP, []byte{8, byte(size >> 8), byte(size), byte(size >> 8), byte(size), 1, 1, 0x11, 0})
	writeSegment(&buf, markerDHT, dhtBody(0, 0, enc[0]))
	for i, toks := range scans {
		n := size >> (2 - i)
		sof, ss := byte(markerSOF3), byte(1)
		if i > 0 {
			writeSegment(&buf, markerEXP, []byte{0x11})
			sof, ss = markerSOF7, 0
		}
		writeSegment(&buf, sof, []byte{8, byte(n >> 8), byte(n), byte(n >> 8), byte(n), 1, 1, 0x11, 0})
		writeSegment(&buf, markerSOS, []byte{1, 1, 0x00, ss, 0, 0})
		writeScan(&buf, toks, enc)
	}
	buf.Write([]byte{0xFF, markerEOI})
	return buf.Bytes()
}

// dctHierarchicalStream writes a 16x16 gray hierarchical image: an 8x8
// SOF1 frame of the base block, then a SOF5 frame of four residual blocks
// that expands the base by two. Coefficients are zigzag ordered and use a
// unit quantizer. seq is the base frame alone as a sequential stream.
func dctHierarchicalStream(t *testing.T, base []int32, residuals [4][]int32) (hier, seq []byte) {
	t.Helper()
	var pred int32
	baseToks := appendBlock(nil, blockRef{blk: base, dc: 0, ac: 1}, &pred)
	var resToks []token
	for _, blk := range residuals {
		var none int32 // differential DC is not predicted
		resToks = appendBlock(resToks, blockRef{blk: blk, dc: 0, ac: 1}, &none)
	}
	enc, err := huffmanTables(2, baseToks, resToks)
	require.NoError(t, err)

	dqt := make([]byte, 65)
	for i := 1; i < len(dqt); i++ {
		dqt[i] = 1
	}
	frameBody := func(n int) []byte { return []byte{8, 0, byte(n), 0, byte(n), 1, 1, 0x11, 0} }
	sos := []byte{1, 1, 0x00, 0, 63, 0}
	baseFrame := func(buf *bytes.Buffer) {
		writeSegment(buf, markerDQT, dqt)
		writeDHT(buf, enc)
		writeSegment(buf, markerSOF1, frameBody(8))
		writeSegment(buf, markerSOS, sos)
		writeScan(buf, baseToks, enc)
	}

	var sb bytes.Buffer
	sb.Write([]byte{0xFF, markerSOI})
	baseFrame(&sb)
	sb.Write([]byte{0xFF, markerEOI})

	var hb bytes.Buffer
	hb.Write([]byte{0xFF, markerSOI})
	writeSegment(&hb, markerDHP, frameBody(16))
	baseFrame(&hb)
	writeSegment(&hb, markerEXP, []byte{0x11})
	writeSegment(&hb, markerSOF5, frameBody(16))
	writeSegment(&hb, markerSOS, sos)
	writeScan(&hb, resToks, enc)
	hb.Write([]byte{0xFF, markerEOI})
	return hb.Bytes(), sb.Bytes()
}

// gradient returns a smooth colour test image.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(255 * x / max(w-1, 1)),
				G: uint8(255 * y / max(h-1, 1)),
				B: uint8(128 + 60*((x/8+y/8)%2)),
				A: 255,
			})
		}
	}
	return img
}

// grayPattern returns a textured grayscale test image.
func grayPattern(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13 + (x*y)%31) % 256)})
		}
	}
	return img
}

// to8 reduces a decoded pixel to 8-bit RGB.
func to8(img *image.NRGBA64, x, y int) (r, g, b int) {
	c := img.NRGBA64At(x, y)
	return int(c.R >> 8), int(c.G >> 8), int(c.B >> 8)
}
