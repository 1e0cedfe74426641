// Package jpeg implements an ISO/IEC 10918-1 codec: Huffman and arithmetic
// entropy decoding of sequential, progressive, lossless and hierarchical
// frames, and a baseline sequential encoder.
package jpeg

// JPEG marker codes (second byte after 0xFF)
const (
	markerSOF0  = 0xC0 // Baseline DCT
	markerSOF1  = 0xC1 // Extended sequential DCT, Huffman
	markerSOF2  = 0xC2 // Progressive DCT, Huffman
	markerSOF3  = 0xC3 // Lossless, Huffman
	markerDHT   = 0xC4 // Define Huffman Table
	markerSOF5  = 0xC5 // Differential sequential DCT, Huffman
	markerSOF6  = 0xC6 // Differential progressive DCT, Huffman
	markerSOF7  = 0xC7 // Differential lossless, Huffman
	markerJPG   = 0xC8 // Reserved
	markerSOF9  = 0xC9 // Extended sequential DCT, arithmetic
	markerSOF10 = 0xCA // Progressive DCT, arithmetic
	markerSOF11 = 0xCB // Lossless, arithmetic
	markerDAC   = 0xCC // Define Arithmetic Conditioning
	markerSOF15 = 0xCF // Differential lossless, arithmetic
	markerRST0  = 0xD0 // Restart 0..7
	markerRST7  = 0xD7
	markerSOI   = 0xD8 // Start of Image
	markerEOI   = 0xD9 // End of Image
	markerSOS   = 0xDA // Start of Scan
	markerDQT   = 0xDB // Define Quantization Table
	markerDNL   = 0xDC // Define Number of Lines
	markerDRI   = 0xDD // Define Restart Interval
	markerDHP   = 0xDE // Define Hierarchical Progression
	markerEXP   = 0xDF // Expand Reference Components
	markerAPP0  = 0xE0 // JFIF
	markerAPP1  = 0xE1 // Exif
	markerAPP14 = 0xEE // Adobe
	markerCOM   = 0xFE // Comment
	markerTEM   = 0x01 // Temporary private use, no length
)

// FrameFlags describe the coding process a SOF marker selects.
type FrameFlags uint8

const (
	FlagProgressive FrameFlags = 1 << iota
	FlagLossless
	FlagDifferential
	FlagArithmetic
)

func (f FrameFlags) String() string {
	s := "huffman"
	if f&FlagArithmetic != 0 {
		s = "arithmetic"
	}
	switch {
	case f&FlagLossless != 0:
		s += " lossless"
	case f&FlagProgressive != 0:
		s += " progressive"
	default:
		s += " sequential"
	}
	if f&FlagDifferential != 0 {
		s += " differential"
	}
	return s
}

// isSOF reports whether m starts a frame.
func isSOF(m byte) bool {
	return m >= markerSOF0 && m <= markerSOF15 && m != markerDHT && m != markerJPG && m != markerDAC
}

func isRST(m byte) bool {
	return m >= markerRST0 && m <= markerRST7
}

// sofFlags decodes the process bits of a SOF marker.
func sofFlags(m byte) FrameFlags {
	n := m - markerSOF0
	var f FrameFlags
	if n&3 == 3 {
		f |= FlagLossless
	} else if n&3 == 2 {
		f |= FlagProgressive
	}
	if n&4 != 0 {
		f |= FlagDifferential
	}
	if n&8 != 0 {
		f |= FlagArithmetic
	}
	return f
}

// zigzag maps the transmission order of coefficients to their natural
// row-major position within an 8x8 block.
var zigzag = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}
