package jpeg

import "bytes"

// bitWriter writes MSB-first bits to a buffer, stuffing 0x00 after every
// 0xFF data byte.
type bitWriter struct {
	buf *bytes.Buffer
	acc uint32
	n   int
}

// writeBits appends the low n (<= 16) bits of v.
func (b *bitWriter) writeBits(v uint32, n int) {
	b.acc = b.acc<<n | v&(1<<n-1)
	b.n += n
	for b.n >= 8 {
		b.n -= 8
		c := byte(b.acc >> b.n)
		b.buf.WriteByte(c)
		if c == 0xFF {
			b.buf.WriteByte(0x00)
		}
	}
}

// flush pads the last partial byte with ones.
func (b *bitWriter) flush() {
	if b.n > 0 {
		b.writeBits(1<<(8-b.n)-1, 8-b.n)
	}
	b.acc = 0
}
