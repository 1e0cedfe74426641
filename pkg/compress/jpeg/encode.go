package jpeg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
	"math/bits"

	"github.com/jpfielding/jpegx/pkg/compress/huffman"
)

// EncodeOptions configure Encode. A nil *EncodeOptions means
// DefaultEncodeOptions().
type EncodeOptions struct {
	// Quality 1..100 scales the Annex K quantization tables. 0 derives the
	// quality from the image content (see Score).
	Quality int
	// RestartInterval is the number of MCUs between RST markers; 0 disables
	// restart markers.
	RestartInterval int
	// MaxMemory bounds the scratch memory of one call in bytes.
	MaxMemory int64
}

// DefaultEncodeOptions derives the quality from the image content.
func DefaultEncodeOptions() *EncodeOptions {
	return &EncodeOptions{MaxMemory: DefaultMaxMemory}
}

// Encode writes img as a baseline JPEG with 4:2:0 chroma subsampling and
// Huffman tables optimized for the image. Nothing is written on error.
func Encode(w io.Writer, img image.Image, opts *EncodeOptions) error {
	if opts == nil {
		opts = DefaultEncodeOptions()
	}
	data, err := encodeBytes(img, opts)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("jpeg: writing output: %w", err)
	}
	return nil
}

// Token table selectors beyond the Huffman tables of a scan.
const (
	tokRaw     = 0xFE // bits written verbatim
	tokRestart = 0xFF // RSTn marker, n in sym
)

// token is one coded symbol with its appended magnitude bits.
type token struct {
	tbl   uint8
	sym   uint8
	nbits uint8
	bits  uint16
}

// magnitude returns the category of v and its additional bits.
func magnitude(v int32) (int, uint16) {
	a := v
	if a < 0 {
		a = -a
	}
	s := bits.Len32(uint32(a))
	if v < 0 {
		v += int32(1)<<s - 1
	}
	return s, uint16(uint32(v) & (1<<s - 1))
}

// huffEncoder is a DHT-ready Huffman table with per-symbol codes.
type huffEncoder struct {
	counts [16]uint8
	values []byte
	code   [256]uint16
	size   [256]uint8
}

// newHuffEncoder builds a length-limited optimal table. A dummy symbol with
// frequency one takes the longest code so no real symbol is all ones.
func newHuffEncoder(freq *[256]uint32) (*huffEncoder, error) {
	f := make([]uint32, 257)
	copy(f, freq[:])
	f[256] = 1
	lengths, err := huffman.Lengths(f, 16)
	if err != nil {
		return nil, fmt.Errorf("jpeg: building Huffman table: %w", err)
	}
	codes := huffman.Codes(lengths, false)
	h := &huffEncoder{}
	for l := 1; l <= 16; l++ {
		for sym := 0; sym < 256; sym++ {
			if int(lengths[sym]) != l {
				continue
			}
			h.values = append(h.values, byte(sym))
			h.counts[l-1]++
			h.code[sym] = codes[sym]
			h.size[sym] = uint8(l)
		}
	}
	return h, nil
}

// huffmanTables builds n tables from the symbol statistics of the scans.
func huffmanTables(n int, scans ...[]token) ([]*huffEncoder, error) {
	freq := make([][256]uint32, n)
	for _, toks := range scans {
		for _, t := range toks {
			if int(t.tbl) < n {
				freq[t.tbl][t.sym]++
			}
		}
	}
	enc := make([]*huffEncoder, n)
	for i := range enc {
		var err error
		if enc[i], err = newHuffEncoder(&freq[i]); err != nil {
			return nil, err
		}
	}
	return enc, nil
}

func dhtBody(class, id int, h *huffEncoder) []byte {
	b := make([]byte, 0, 17+len(h.values))
	b = append(b, byte(class<<4|id))
	b = append(b, h.counts[:]...)
	return append(b, h.values...)
}

func writeSegment(buf *bytes.Buffer, m byte, body []byte) {
	n := len(body) + 2
	buf.Write([]byte{0xFF, m, byte(n >> 8), byte(n)})
	buf.Write(body)
}

// writeScan emits the entropy-coded data of one scan.
func writeScan(buf *bytes.Buffer, toks []token, enc []*huffEncoder) {
	bw := bitWriter{buf: buf}
	for _, t := range toks {
		switch t.tbl {
		case tokRaw:
			bw.writeBits(uint32(t.bits), int(t.nbits))
		case tokRestart:
			bw.flush()
			buf.Write([]byte{0xFF, markerRST0 + t.sym})
		default:
			h := enc[t.tbl]
			bw.writeBits(uint32(h.code[t.sym]), int(h.size[t.sym]))
			if t.nbits > 0 {
				bw.writeBits(uint32(t.bits), int(t.nbits))
			}
		}
	}
	bw.flush()
}

// blockRef is one block of a sequential scan in coding order.
type blockRef struct {
	blk    []int32
	comp   int
	dc, ac uint8
}

// tokenizeSequential run-length codes the MCUs of a sequential scan,
// inserting restart markers every restart MCUs.
func tokenizeSequential(mcus [][]blockRef, ncomp, restart int) []token {
	var toks []token
	preds := make([]int32, ncomp)
	for m, mcu := range mcus {
		if restart > 0 && m > 0 && m%restart == 0 {
			toks = append(toks, token{tbl: tokRestart, sym: uint8((m/restart - 1) & 7)})
			clear(preds)
		}
		for _, u := range mcu {
			toks = appendBlock(toks, u, &preds[u.comp])
		}
	}
	return toks
}

func appendBlock(toks []token, u blockRef, pred *int32) []token {
	s, b := magnitude(u.blk[0] - *pred)
	*pred = u.blk[0]
	toks = append(toks, token{tbl: u.dc, sym: uint8(s), nbits: uint8(s), bits: b})
	run := 0
	for k := 1; k < 64; k++ {
		v := u.blk[k]
		if v == 0 {
			run++
			continue
		}
		for ; run > 15; run -= 16 {
			toks = append(toks, token{tbl: u.ac, sym: 0xF0})
		}
		s, b := magnitude(v)
		toks = append(toks, token{tbl: u.ac, sym: uint8(run<<4 | s), nbits: uint8(s), bits: b})
		run = 0
	}
	if run > 0 {
		toks = append(toks, token{tbl: u.ac, sym: 0x00})
	}
	return toks
}

// quantizeBlocks runs the forward DCT over a padded raster of bw x bh blocks
// and quantizes each block into zigzag order.
func quantizeBlocks(pix []int32, stride, bw, bh int, q *[64]uint16, shift int32, a *arena) ([]int32, error) {
	n, err := mul(bw, bh, 64)
	if err != nil {
		return nil, err
	}
	out, err := a.int32s(n)
	if err != nil {
		return nil, err
	}
	var in, f [64]float64
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			for y := 0; y < 8; y++ {
				row := pix[(by*8+y)*stride+bx*8:]
				for x := 0; x < 8; x++ {
					in[y*8+x] = float64(row[x] - shift)
				}
			}
			fdct8x8(&in, &f)
			blk := out[(by*bw+bx)*64:]
			for k := 0; k < 64; k++ {
				blk[k] = int32(math.Round(f[zigzag[k]] / float64(q[k])))
			}
		}
	}
	return out, nil
}

// padPlane copies a w x h raster into a pw x ph raster, replicating the
// last column and row.
func padPlane(p []int32, w, h, pw, ph int, a *arena) ([]int32, error) {
	n, err := mul(pw, ph)
	if err != nil {
		return nil, err
	}
	out, err := a.int32s(n)
	if err != nil {
		return nil, err
	}
	for y := 0; y < ph; y++ {
		src := p[min(y, h-1)*w:]
		dst := out[y*pw : (y+1)*pw]
		for x := range dst {
			dst[x] = src[min(x, w-1)]
		}
	}
	return out, nil
}

// subsample halves a raster in both directions by 2x2 averaging, duplicating
// the last column and row of odd sizes.
func subsample(p []int32, w, h int, a *arena) ([]int32, int, int, error) {
	cw, ch := ceilDiv(w, 2), ceilDiv(h, 2)
	n, err := mul(cw, ch)
	if err != nil {
		return nil, 0, 0, err
	}
	out, err := a.int32s(n)
	if err != nil {
		return nil, 0, 0, err
	}
	for y := 0; y < ch; y++ {
		y0, y1 := 2*y, min(2*y+1, h-1)
		for x := 0; x < cw; x++ {
			x0, x1 := 2*x, min(2*x+1, w-1)
			out[y*cw+x] = (p[y0*w+x0] + p[y0*w+x1] + p[y1*w+x0] + p[y1*w+x1] + 2) >> 2
		}
	}
	return out, cw, ch, nil
}

// toYCbCr converts img to three full-resolution 8-bit planes.
func toYCbCr(img image.Image, a *arena) ([3][]int32, error) {
	var planes [3][]int32
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n, err := mul(w, h)
	if err != nil {
		return planes, err
	}
	for i := range planes {
		if planes[i], err = a.int32s(n); err != nil {
			return planes, err
		}
	}
	to8 := func(v float64) int32 {
		return int32(min(max(math.Round(v), 0), 255))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			r, g, bb := float64(c.R)/257, float64(c.G)/257, float64(c.B)/257
			yy := kr*r + kg*g + kb*bb
			i := y*w + x
			planes[0][i] = to8(yy)
			planes[1][i] = to8((bb-yy)/cbToB + 128)
			planes[2][i] = to8((r-yy)/crToR + 128)
		}
	}
	return planes, nil
}

func encodeBytes(img image.Image, opts *EncodeOptions) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch {
	case w < 1 || h < 1:
		return nil, dataError("cannot encode an empty %dx%d image", w, h)
	case w > 65535 || h > 65535:
		return nil, fmt.Errorf("%w: %dx%d exceeds 65535 pixels per side", ErrImageTooLarge, w, h)
	case opts.Quality < 0 || opts.Quality > 100:
		return nil, dataError("quality %d outside 0..100", opts.Quality)
	case opts.RestartInterval < 0 || opts.RestartInterval > 65535:
		return nil, dataError("restart interval %d outside 0..65535", opts.RestartInterval)
	}
	a := newArena(opts.MaxMemory)
	quality := opts.Quality
	if quality == 0 {
		quality = qualityFromScore(Score(img))
	}
	q := quantTables(quality)

	planes, err := toYCbCr(img, a)
	if err != nil {
		return nil, err
	}
	mcusX, mcusY := ceilDiv(w, 16), ceilDiv(h, 16)

	// luma: 2x2 blocks per MCU
	ypad, err := padPlane(planes[0], w, h, 16*mcusX, 16*mcusY, a)
	if err != nil {
		return nil, err
	}
	ybw := 2 * mcusX
	yblocks, err := quantizeBlocks(ypad, 16*mcusX, ybw, 2*mcusY, &q[0], 128, a)
	if err != nil {
		return nil, err
	}

	// chroma: one block each per MCU
	var cblocks [2][]int32
	for i := range cblocks {
		sub, cw, ch, err := subsample(planes[1+i], w, h, a)
		if err != nil {
			return nil, err
		}
		cpad, err := padPlane(sub, cw, ch, 8*mcusX, 8*mcusY, a)
		if err != nil {
			return nil, err
		}
		if cblocks[i], err = quantizeBlocks(cpad, 8*mcusX, mcusX, mcusY, &q[1], 128, a); err != nil {
			return nil, err
		}
	}

	// the luma scan is non-interleaved: one block per MCU, cropped grid
	gw, gh := ceilDiv(w, 8), ceilDiv(h, 8)
	ymcus := make([][]blockRef, 0, gw*gh)
	for by := 0; by < gh; by++ {
		for bx := 0; bx < gw; bx++ {
			i := (by*ybw + bx) * 64
			ymcus = append(ymcus, []blockRef{{blk: yblocks[i : i+64], dc: 0, ac: 1}})
		}
	}
	cmcus := make([][]blockRef, 0, mcusX*mcusY)
	for i := 0; i < mcusX*mcusY; i++ {
		j := i * 64
		cmcus = append(cmcus, []blockRef{
			{blk: cblocks[0][j : j+64], comp: 0, dc: 2, ac: 3},
			{blk: cblocks[1][j : j+64], comp: 1, dc: 2, ac: 3},
		})
	}
	ytoks := tokenizeSequential(ymcus, 1, opts.RestartInterval)
	ctoks := tokenizeSequential(cmcus, 2, opts.RestartInterval)
	enc, err := huffmanTables(4, ytoks, ctoks)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write([]byte{0xFF, markerSOI})
	writeSegment(&buf, markerAPP0, []byte{'J', 'F', 'I', 'F', 0, 1, 1, 0, 0, 1, 0, 1, 0, 0})
	writeSegment(&buf, markerAPP14, []byte{'A', 'd', 'o', 'b', 'e', 0, 100, 0, 0, 0, 0, adobeYCbCr})
	writeSegment(&buf, markerSOF0, []byte{
		8, byte(h >> 8), byte(h), byte(w >> 8), byte(w), 3,
		1, 0x22, 0,
		2, 0x11, 1,
		3, 0x11, 1,
	})
	for t := range q {
		body := make([]byte, 65)
		body[0] = byte(t)
		for k, v := range q[t] {
			body[1+k] = byte(v)
		}
		writeSegment(&buf, markerDQT, body)
	}
	writeSegment(&buf, markerDHT, dhtBody(0, 0, enc[0]))
	writeSegment(&buf, markerDHT, dhtBody(1, 0, enc[1]))
	writeSegment(&buf, markerDHT, dhtBody(0, 1, enc[2]))
	writeSegment(&buf, markerDHT, dhtBody(1, 1, enc[3]))
	if ri := opts.RestartInterval; ri > 0 {
		writeSegment(&buf, markerDRI, []byte{byte(ri >> 8), byte(ri)})
	}
	writeSegment(&buf, markerSOS, []byte{1, 1, 0x00, 0, 63, 0})
	writeScan(&buf, ytoks, enc)
	writeSegment(&buf, markerSOS, []byte{2, 2, 0x11, 3, 0x11, 0, 63, 0})
	writeScan(&buf, ctoks, enc)
	buf.Write([]byte{0xFF, markerEOI})

	slog.Debug("jpeg: encoded",
		slog.Int("width", w),
		slog.Int("height", h),
		slog.Int("quality", quality),
		slog.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}
