package jpeg

import (
	"log/slog"
	"math"
)

// trieInvalid marks a trie branch that no code reaches.
const trieInvalid = math.MinInt16

// huffTrie decodes one bit at a time. Node 0 is the root; a child entry >= 0
// is a leaf holding the symbol, a negative entry is the negated index of the
// next node.
type huffTrie struct {
	nodes  [][2]int16
	counts [16]uint8
	values []byte
}

func newHuffTrie(counts [16]uint8, values []byte) (*huffTrie, error) {
	t := &huffTrie{
		nodes:  [][2]int16{{trieInvalid, trieInvalid}},
		counts: counts,
		values: append([]byte(nil), values...),
	}
	code, k := 0, 0
	for l := 1; l <= 16; l++ {
		for i := 0; i < int(counts[l-1]); i++ {
			if code >= 1<<l {
				return nil, formatError("Huffman code lengths over-subscribed at length %d", l)
			}
			if err := t.insert(code, l, values[k]); err != nil {
				return nil, err
			}
			code++
			k++
		}
		code <<= 1
	}
	return t, nil
}

func (t *huffTrie) insert(code, length int, sym byte) error {
	n := 0
	for b := length - 1; b > 0; b-- {
		bit := (code >> b) & 1
		c := t.nodes[n][bit]
		switch {
		case c == trieInvalid:
			t.nodes = append(t.nodes, [2]int16{trieInvalid, trieInvalid})
			c = -int16(len(t.nodes) - 1)
			t.nodes[n][bit] = c
		case c >= 0:
			return formatError("Huffman code %b is prefixed by another code", code)
		}
		n = int(-c)
	}
	if t.nodes[n][code&1] != trieInvalid {
		return formatError("duplicate Huffman code %b", code)
	}
	t.nodes[n][code&1] = int16(sym)
	return nil
}

// tables is the decoder state mutated by DHT, DQT, DAC, DRI, DNL and EXP
// markers as they are replayed in file order.
type tables struct {
	dc, ac  [4]*huffTrie
	quant   [4]*[64]uint16 // zigzag order
	dcCond  [4]byte        // U<<4 | L
	acCond  [4]byte        // Kx
	restart int

	expandH, expandV bool
	expPending       bool

	next     int // layout.Tables entries already replayed
	defaults bool
}

func newTables() *tables {
	t := &tables{}
	for i := range t.dcCond {
		t.dcCond[i] = 0x10
		t.acCond[i] = 5
	}
	return t
}

// replay applies every table marker located before offset until.
func (t *tables) replay(data []byte, l *Layout, until int) error {
	for t.next < len(l.Tables) && l.Tables[t.next] < until {
		off := l.Tables[t.next]
		t.next++
		n := int(data[off+2])<<8 | int(data[off+3])
		body := data[off+4 : off+2+n]
		var err error
		switch m := data[off+1]; m {
		case markerDHT:
			err = t.parseDHT(body)
		case markerDQT:
			err = t.parseDQT(body)
		case markerDAC:
			err = t.parseDAC(body)
		case markerDRI:
			if len(body) != 2 {
				return formatError("DRI length %d", n)
			}
			t.restart = int(body[0])<<8 | int(body[1])
			slog.Debug("jpeg: DRI parsed", slog.Int("interval", t.restart))
		case markerDNL:
			// the frame reads its height from DNL before decoding
			if len(body) != 2 || body[0]|body[1] == 0 {
				return formatError("malformed DNL marker at offset %d", off)
			}
		case markerEXP:
			if len(body) != 1 || body[0]&0xEE != 0 {
				return formatError("malformed EXP marker at offset %d", off)
			}
			t.expandH = body[0]>>4 == 1
			t.expandV = body[0]&15 == 1
			t.expPending = true
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// parseDHT installs every table of a DHT segment. The segment must hold
// exactly the tables its counts describe.
func (t *tables) parseDHT(body []byte) error {
	for len(body) > 0 {
		if len(body) < 17 {
			return formatError("truncated DHT table (%d bytes left)", len(body))
		}
		tc, th := body[0]>>4, body[0]&15
		if tc > 1 || th > 3 {
			return formatError("bad DHT class/id 0x%02X", body[0])
		}
		var counts [16]uint8
		total := 0
		for i := range counts {
			counts[i] = body[1+i]
			total += int(counts[i])
		}
		if total == 0 || total > 256 {
			return formatError("DHT table with %d symbols", total)
		}
		if len(body) < 17+total {
			return formatError("DHT length does not cover its %d symbols", total)
		}
		trie, err := newHuffTrie(counts, body[17:17+total])
		if err != nil {
			return err
		}
		if tc == 0 {
			t.dc[th] = trie
		} else {
			t.ac[th] = trie
		}
		slog.Debug("jpeg: DHT parsed", slog.Int("class", int(tc)), slog.Int("id", int(th)), slog.Int("symbols", total))
		body = body[17+total:]
	}
	return nil
}

func (t *tables) parseDQT(body []byte) error {
	for len(body) > 0 {
		pq, tq := body[0]>>4, body[0]&15
		if pq > 1 || tq > 3 {
			return formatError("bad DQT precision/id 0x%02X", body[0])
		}
		size := 64 * int(1+pq)
		if len(body) < 1+size {
			return formatError("truncated DQT table %d", tq)
		}
		q := new([64]uint16)
		for i := range q {
			if pq == 0 {
				q[i] = uint16(body[1+i])
			} else {
				q[i] = uint16(body[1+2*i])<<8 | uint16(body[2+2*i])
			}
			if q[i] == 0 {
				return formatError("zero entry in quantization table %d", tq)
			}
		}
		t.quant[tq] = q
		slog.Debug("jpeg: DQT parsed", slog.Int("id", int(tq)), slog.Int("precision", 8*int(1+pq)))
		body = body[1+size:]
	}
	return nil
}

func (t *tables) parseDAC(body []byte) error {
	if len(body)%2 != 0 {
		return formatError("DAC length %d", len(body)+2)
	}
	for ; len(body) > 0; body = body[2:] {
		tc, tb, cs := body[0]>>4, body[0]&15, body[1]
		if tc > 1 || tb > 3 {
			return formatError("bad DAC class/id 0x%02X", body[0])
		}
		if tc == 0 {
			if cs&15 > cs>>4 {
				return formatError("DAC DC conditioning L=%d > U=%d", cs&15, cs>>4)
			}
			t.dcCond[tb] = cs
		} else {
			if cs < 1 || cs > 63 {
				return formatError("DAC AC conditioning Kx=%d", cs)
			}
			t.acCond[tb] = cs
		}
	}
	return nil
}

// installDefaults loads the Annex K Huffman tables for streams that carry
// no DHT marker at all.
func (t *tables) installDefaults() error {
	if t.defaults {
		return nil
	}
	t.defaults = true
	for i, s := range stdHuffman {
		trie, err := newHuffTrie(s.counts, s.values)
		if err != nil {
			return err
		}
		if s.class == 0 {
			t.dc[s.id] = trie
		} else {
			t.ac[s.id] = trie
		}
		slog.Debug("jpeg: default Huffman table installed", slog.Int("index", i))
	}
	return nil
}
