package jpeg

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
)

// Segment is a byte range of entropy-coded data. A scan has one segment per
// restart interval plus the trailing partial interval.
type Segment struct {
	Offset int
	Length int
}

// ScanLayout locates one SOS marker and its entropy-coded data.
type ScanLayout struct {
	Offset   int // offset of the 0xFF of the SOS marker
	Segments []Segment
}

// FrameLayout locates one SOF marker and the scans that follow it.
type FrameLayout struct {
	Offset int
	Marker byte
	Flags  FrameFlags
	Scans  []ScanLayout
}

// Layout is the index of a JPEG stream built by ParseLayout. Offsets are
// byte positions of marker prefixes; -1 means absent.
type Layout struct {
	Frames []FrameLayout
	// Tables holds the offsets of DHT, DQT, DAC, DRI, DNL and EXP markers in
	// byte order. They are replayed up to each frame and scan.
	Tables []int
	JFIF   int
	Exif   int
	Adobe  int
	DHP    int
	End    int // offset of EOI
}

// Hierarchical reports whether the stream declared a DHP marker.
func (l *Layout) Hierarchical() bool {
	return l.DHP >= 0
}

// ParseLayout makes a single forward pass over a JPEG stream and indexes its
// frames, scans, restart intervals and auxiliary markers. It never returns a
// partial layout.
func ParseLayout(data []byte) (*Layout, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, formatError("missing SOI marker")
	}
	l := &Layout{JFIF: -1, Exif: -1, Adobe: -1, DHP: -1, End: -1}
	pos := 2
	for {
		if pos >= len(data) {
			return nil, formatError("missing EOI marker")
		}
		if data[pos] != 0xFF {
			return nil, formatError("expected marker at offset %d, got 0x%02X", pos, data[pos])
		}
		for pos+1 < len(data) && data[pos+1] == 0xFF {
			pos++
		}
		if pos+1 >= len(data) {
			return nil, formatError("truncated marker at offset %d", pos)
		}
		off := pos
		m := data[pos+1]
		switch {
		case m == markerEOI:
			l.End = off
			if err := l.check(); err != nil {
				return nil, err
			}
			return l, nil
		case m == markerSOI:
			return nil, formatError("unexpected SOI at offset %d", off)
		case isRST(m):
			return nil, formatError("RST%d outside a scan at offset %d", m-markerRST0, off)
		case m == 0x00:
			return nil, formatError("stray stuffed byte at offset %d", off)
		case m == markerTEM:
			pos += 2
			continue
		}

		if pos+4 > len(data) {
			return nil, formatError("truncated marker 0x%02X at offset %d", m, off)
		}
		n := int(data[pos+2])<<8 | int(data[pos+3])
		if n < 2 || pos+2+n > len(data) {
			return nil, formatError("marker 0x%02X at offset %d has bad length %d", m, off, n)
		}
		body := data[pos+4 : pos+2+n]
		next := pos + 2 + n
		slog.Debug("jpeg: marker", slog.String("marker", markerName(m)), slog.Int("offset", off), slog.Int("length", n))

		switch {
		case isSOF(m):
			flags := sofFlags(m)
			if flags&FlagDifferential != 0 && l.DHP < 0 {
				return nil, formatError("differential frame at offset %d without DHP", off)
			}
			if len(l.Frames) > 0 && l.DHP < 0 {
				return nil, formatError("second frame at offset %d in a non-hierarchical image", off)
			}
			if n := len(l.Frames); n > 0 && len(l.Frames[n-1].Scans) == 0 {
				return nil, formatError("frame at offset %d has no scans", l.Frames[n-1].Offset)
			}
			l.Frames = append(l.Frames, FrameLayout{Offset: off, Marker: m, Flags: flags})
		case m == markerDHP:
			if l.DHP >= 0 {
				return nil, formatError("nested hierarchical declaration at offset %d", off)
			}
			if len(l.Frames) > 0 {
				return nil, formatError("DHP at offset %d follows a frame", off)
			}
			l.DHP = off
		case m == markerSOS:
			if len(l.Frames) == 0 {
				return nil, formatError("SOS at offset %d before any frame", off)
			}
			segs, end, err := scanEntropy(data, next)
			if err != nil {
				return nil, err
			}
			f := &l.Frames[len(l.Frames)-1]
			f.Scans = append(f.Scans, ScanLayout{Offset: off, Segments: segs})
			next = end
		case m == markerEXP:
			if l.DHP < 0 {
				return nil, formatError("EXP at offset %d outside a hierarchical image", off)
			}
			l.Tables = append(l.Tables, off)
		case m == markerDHT, m == markerDQT, m == markerDAC, m == markerDRI, m == markerDNL:
			l.Tables = append(l.Tables, off)
		case m == markerAPP0:
			if len(l.Frames) == 0 && l.JFIF < 0 && bytes.HasPrefix(body, []byte("JFIF\x00")) {
				l.JFIF = off
			}
		case m == markerAPP1:
			if len(l.Frames) == 0 && l.Exif < 0 && bytes.HasPrefix(body, []byte("Exif\x00\x00")) {
				l.Exif = off
			}
		case m == markerAPP14:
			if len(l.Frames) == 0 && l.Adobe < 0 && bytes.HasPrefix(body, []byte("Adobe")) {
				l.Adobe = off
			}
		}
		pos = next
	}
}

func (l *Layout) check() error {
	if len(l.Frames) == 0 {
		return formatError("no frame before EOI")
	}
	for _, f := range l.Frames {
		if len(f.Scans) == 0 {
			return formatError("frame at offset %d has no scans", f.Offset)
		}
	}
	return nil
}

// scanEntropy walks entropy-coded data starting at pos and returns one
// segment per restart interval and the offset of the marker that ended the
// scan.
func scanEntropy(data []byte, pos int) ([]Segment, int, error) {
	var segs []Segment
	start := pos
	expect := 0
	i := pos
	for {
		if i >= len(data) {
			return nil, 0, formatError("unterminated scan starting at offset %d", pos)
		}
		if data[i] != 0xFF {
			i++
			continue
		}
		// fill bytes may precede a marker; the data ends at the first of them
		j := i
		for j+1 < len(data) && data[j+1] == 0xFF {
			j++
		}
		if j+1 >= len(data) {
			return nil, 0, formatError("unterminated scan starting at offset %d", pos)
		}
		b := data[j+1]
		switch {
		case b == 0x00:
			if j != i {
				return nil, 0, formatError("fill bytes before stuffed data at offset %d", i)
			}
			i += 2
		case isRST(b):
			if int(b-markerRST0) != expect&7 {
				return nil, 0, formatError("RST%d at offset %d out of order, expected RST%d", b-markerRST0, j, expect&7)
			}
			expect++
			segs = append(segs, Segment{Offset: start, Length: i - start})
			i = j + 2
			start = i
		default:
			segs = append(segs, Segment{Offset: start, Length: i - start})
			return segs, i, nil
		}
	}
}

func markerName(m byte) string {
	switch {
	case isSOF(m):
		return "SOF" + strconv.Itoa(int(m-markerSOF0))
	case isRST(m):
		return "RST" + strconv.Itoa(int(m-markerRST0))
	case m >= markerAPP0 && m <= markerAPP0+15:
		return "APP" + strconv.Itoa(int(m-markerAPP0))
	}
	switch m {
	case markerDHT:
		return "DHT"
	case markerDAC:
		return "DAC"
	case markerSOI:
		return "SOI"
	case markerEOI:
		return "EOI"
	case markerSOS:
		return "SOS"
	case markerDQT:
		return "DQT"
	case markerDNL:
		return "DNL"
	case markerDRI:
		return "DRI"
	case markerDHP:
		return "DHP"
	case markerEXP:
		return "EXP"
	case markerCOM:
		return "COM"
	}
	return fmt.Sprintf("0x%02X", m)
}

// MarkerName returns the mnemonic of a marker code, e.g. "SOF2" for 0xC2.
func MarkerName(m byte) string {
	return markerName(m)
}
