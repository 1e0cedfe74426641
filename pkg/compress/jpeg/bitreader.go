package jpeg

// bitReader reads MSB-first bits from one entropy-coded segment, removing
// the 0x00 stuffed after every 0xFF data byte. The segment never contains a
// marker, so running out of bytes means the data is corrupt.
type bitReader struct {
	data []byte
	pos  int
	acc  uint32
	n    int // valid low bits in acc
}

func (b *bitReader) reset(seg []byte) {
	*b = bitReader{data: seg}
}

func (b *bitReader) fill() {
	if b.pos >= len(b.data) {
		failf("entropy data exhausted")
	}
	c := b.data[b.pos]
	b.pos++
	if c == 0xFF && b.pos < len(b.data) && b.data[b.pos] == 0 {
		b.pos++
	}
	b.acc = b.acc<<8 | uint32(c)
	b.n += 8
}

func (b *bitReader) readBit() int {
	if b.n == 0 {
		b.fill()
	}
	b.n--
	return int(b.acc>>b.n) & 1
}

// readBits returns the next n (<= 16) bits.
func (b *bitReader) readBits(n int) int {
	if n == 0 {
		return 0
	}
	for b.n < n {
		b.fill()
	}
	b.n -= n
	return int(b.acc>>b.n) & (1<<n - 1)
}

// remaining returns the number of whole bytes not yet read.
func (b *bitReader) remaining() int {
	return len(b.data) - b.pos
}

// extend converts the n received bits v of a magnitude category into a
// signed value.
func extend(v, n int) int32 {
	if n == 0 {
		return 0
	}
	if v < 1<<(n-1) {
		return int32(v - (1<<n - 1))
	}
	return int32(v)
}
