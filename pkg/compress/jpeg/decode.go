package jpeg

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
)

// Options configure a decode call. A nil *Options means DefaultOptions().
type Options struct {
	// MaxMemory bounds the scratch memory of one call in bytes.
	MaxMemory int64
	// AutoRotate applies the Exif orientation to the decoded image.
	AutoRotate bool
}

// DefaultOptions returns a 512 MiB memory limit with auto-rotation on.
func DefaultOptions() *Options {
	return &Options{MaxMemory: DefaultMaxMemory, AutoRotate: true}
}

type decoder struct {
	data   []byte
	layout *Layout
	tables *tables
	arena  *arena

	jfif   bool
	adobe  int
	hasDHT bool
}

// segmentBody returns the payload of the marker segment at off. The layout
// scanner has already validated its length.
func segmentBody(data []byte, off int) []byte {
	n := int(data[off+2])<<8 | int(data[off+3])
	return data[off+4 : off+2+n]
}

func newDecoder(data []byte, l *Layout, opts *Options) *decoder {
	d := &decoder{
		data:   data,
		layout: l,
		tables: newTables(),
		arena:  newArena(opts.MaxMemory),
		jfif:   l.JFIF >= 0,
		adobe:  adobeNone,
	}
	if l.Adobe >= 0 {
		if b := segmentBody(data, l.Adobe); len(b) >= 12 {
			d.adobe = int(b[11])
		}
	}
	for _, off := range l.Tables {
		if data[off+1] == markerDHT {
			d.hasDHT = true
		}
	}
	return d
}

// Decode reads a complete JPEG stream and returns it as an *image.NRGBA64.
func Decode(r io.Reader, opts *Options) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("jpeg: reading input: %w", err)
	}
	img, err := DecodeBytes(data, opts)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// DecodeBytes decodes an in-memory JPEG stream. On error no image is
// returned.
func DecodeBytes(data []byte, opts *Options) (*image.NRGBA64, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	l, err := ParseLayout(data)
	if err != nil {
		return nil, err
	}
	d := newDecoder(data, l, opts)

	var (
		f      *frame
		planes []samplePlane
	)
	if l.Hierarchical() {
		f, planes, err = d.decodeHierarchical()
	} else {
		f, planes, err = d.decodeFrame(l.Frames[0])
	}
	if err != nil {
		return nil, err
	}
	img, err := d.render(f, planes)
	if err != nil {
		return nil, err
	}
	if opts.AutoRotate && l.Exif >= 0 {
		if code := exifOrientation(segmentBody(data, l.Exif)); code > 0 {
			// the rotated copy is a second full image
			if err := d.arena.reserve(len(img.Pix), 1); err != nil {
				return nil, err
			}
			img = orient(img, code)
		}
	}
	return img, nil
}

// DecodeConfig reports the dimensions Decode produces with default options
// without decoding any entropy-coded data.
func DecodeConfig(r io.Reader) (image.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return image.Config{}, fmt.Errorf("jpeg: reading input: %w", err)
	}
	l, err := ParseLayout(data)
	if err != nil {
		return image.Config{}, err
	}
	d := newDecoder(data, l, DefaultOptions())
	var f *frame
	if l.Hierarchical() {
		f, err = parseFrameHeader(segmentBody(data, l.DHP), markerDHP)
	} else {
		f, err = parseFrameHeader(segmentBody(data, l.Frames[0].Offset), l.Frames[0].Marker)
		if err == nil && f.height == 0 {
			f.height = d.dnlHeight(l.Frames[0])
		}
	}
	if err != nil {
		return image.Config{}, err
	}
	if f.height == 0 {
		return image.Config{}, formatError("frame height is zero and no DNL marker defines it")
	}
	w, h := f.width, f.height
	if l.Exif >= 0 && exifOrientation(segmentBody(data, l.Exif)) >= 4 {
		w, h = h, w
	}
	return image.Config{ColorModel: color.NRGBA64Model, Width: w, Height: h}, nil
}

// Orientation returns the Exif orientation of a JPEG stream as a code 0..7
// (the tag value minus one); 0 when the stream carries none.
func Orientation(data []byte) (int, error) {
	l, err := ParseLayout(data)
	if err != nil {
		return 0, err
	}
	if l.Exif < 0 {
		return 0, nil
	}
	return exifOrientation(segmentBody(data, l.Exif)), nil
}

// dnlHeight returns the line count of the DNL marker that follows the first
// scan of fl, or 0.
func (d *decoder) dnlHeight(fl FrameLayout) int {
	first := fl.Scans[0].Offset
	for _, off := range d.layout.Tables {
		if off > first && d.data[off+1] == markerDNL {
			b := segmentBody(d.data, off)
			if len(b) == 2 {
				return int(b[0])<<8 | int(b[1])
			}
			return 0
		}
	}
	return 0
}

// decodeFrame decodes every scan of one frame and returns its reconstructed
// sample planes.
func (d *decoder) decodeFrame(fl FrameLayout) (*frame, []samplePlane, error) {
	if err := d.tables.replay(d.data, d.layout, fl.Offset); err != nil {
		return nil, nil, err
	}
	f, err := parseFrameHeader(segmentBody(d.data, fl.Offset), fl.Marker)
	if err != nil {
		return nil, nil, err
	}
	if f.differential() && d.tables.expPending {
		f.expandH, f.expandV = d.tables.expandH, d.tables.expandV
	}
	d.tables.expPending = false
	if f.height == 0 {
		f.height = d.dnlHeight(fl)
	}
	if err := f.layoutUnits(); err != nil {
		return nil, nil, err
	}
	if err := f.allocate(d.arena); err != nil {
		return nil, nil, err
	}

	for _, sl := range fl.Scans {
		if err := d.tables.replay(d.data, d.layout, sl.Offset); err != nil {
			return nil, nil, err
		}
		s, err := f.parseScanHeader(segmentBody(d.data, sl.Offset))
		if err != nil {
			return nil, nil, err
		}
		if !f.arithmetic() && !d.hasDHT {
			if err := d.tables.installDefaults(); err != nil {
				return nil, nil, err
			}
		}
		if err := f.cover(s); err != nil {
			return nil, nil, err
		}
		if !f.lossless() {
			for _, ci := range s.comps {
				c := &f.comps[ci]
				if c.quant != nil {
					continue
				}
				q := d.tables.quant[c.tq]
				if q == nil {
					return nil, nil, formatError("component %d uses undefined quantization table %d", c.id, c.tq)
				}
				snap := *q
				c.quant = &snap
			}
		}
		if err := d.runScan(f, s, sl); err != nil {
			return nil, nil, err
		}
	}
	if err := f.covered(); err != nil {
		return nil, nil, err
	}
	if f.lossless() {
		return f, losslessPlanes(f), nil
	}
	planes, err := reconstruct(f, d.arena)
	if err != nil {
		return nil, nil, err
	}
	return f, planes, nil
}

// render upsamples the component planes to full resolution and converts
// them to 16-bit RGBA.
func (d *decoder) render(f *frame, planes []samplePlane) (*image.NRGBA64, error) {
	ids := make([]byte, len(f.comps))
	for i := range f.comps {
		ids[i] = f.comps[i].id
	}
	model, err := chooseColorModel(ids, d.jfif, d.adobe)
	if err != nil {
		return nil, err
	}
	n, err := mul(f.width, f.height)
	if err != nil {
		return nil, err
	}
	if err := d.arena.reserve(n, 8); err != nil {
		return nil, err
	}
	rows := make([][]int32, len(f.comps))
	for i := range rows {
		if rows[i], err = d.arena.int32s(f.width); err != nil {
			return nil, err
		}
	}
	img := image.NewNRGBA64(image.Rect(0, 0, f.width, f.height))
	ct := newColorTransfer(model, f.precision)
	for y := 0; y < f.height; y++ {
		for i := range f.comps {
			c := &f.comps[i]
			upsampleRow(&planes[i], c.h, f.hmax, c.v, f.vmax, y, rows[i])
		}
		ct.row(rows, img.Pix[y*img.Stride:y*img.Stride+f.width*8])
	}
	slog.Debug("jpeg: image rendered",
		slog.String("color", model.String()),
		slog.Int("width", f.width),
		slog.Int("height", f.height),
		slog.Int64("arenaBytes", d.arena.used))
	return img, nil
}
