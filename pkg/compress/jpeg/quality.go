package jpeg

import (
	"image"
	"math"
)

// Score rates how much detail an image is likely to carry, from 0 (small,
// grey, few colours) to 1 (large, saturated, many colours). The encoder
// maps it to a quality between 50 and 95.
func Score(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return 0
	}
	size := math.Log2(float64(w)*float64(h)+1) / 22

	var seen [4096]bool
	distinct := 0
	chroma := 0.0
	n := 0
	step := max(1, max(w, h)/64)
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bb, _ := img.At(x, y).RGBA()
			key := (r>>12)<<8 | (g>>12)<<4 | bb>>12
			if !seen[key] {
				seen[key] = true
				distinct++
			}
			chroma += float64(max(r, g, bb)-min(r, g, bb)) / 0xFFFF
			n++
		}
	}
	colours := math.Log2(float64(distinct)) / 12
	s := 0.5*min(size, 1) + 0.25*colours + 0.25*chroma/float64(n)
	return min(max(s, 0), 1)
}

func qualityFromScore(s float64) int {
	return 50 + int(math.Round(45*min(max(s, 0), 1)))
}

// quantTables scales the Annex K luminance and chrominance tables to a
// quality of 1..100 and returns them in zigzag order.
func quantTables(quality int) [2][64]uint16 {
	quality = min(max(quality, 1), 100)
	scale := 200 - 2*quality
	if quality < 50 {
		scale = 5000 / quality
	}
	var q [2][64]uint16
	for t := range q {
		for k := range q[t] {
			v := (int(stdQuant[t][zigzag[k]])*scale + 50) / 100
			q[t][k] = uint16(min(max(v, 1), 255))
		}
	}
	return q
}
