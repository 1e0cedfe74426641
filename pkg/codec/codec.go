// Package codec is a small registry of image codecs keyed by name and by the
// magic bytes that open their streams. Only JPEG is registered.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"sort"

	"github.com/jpfielding/jpegx/pkg/compress/jpeg"
)

// Codec defines the interface for one compressed image format
type Codec interface {
	// Encode compresses an image to the writer
	Encode(w io.Writer, img image.Image) error
	// Decode decompresses a complete stream
	Decode(data []byte) (image.Image, error)
	// Name returns the codec identifier (e.g., "jpeg")
	Name() string
	// MediaType returns the MIME type of the format
	MediaType() string
	// Magic returns the bytes every stream of the format starts with
	Magic() []byte
}

// JPEG implements Codec with the jpeg package. Nil options select the
// package defaults.
type JPEG struct {
	DecodeOptions *jpeg.Options
	EncodeOptions *jpeg.EncodeOptions
}

func (c *JPEG) Encode(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, c.EncodeOptions)
}

func (c *JPEG) Decode(data []byte) (image.Image, error) {
	img, err := jpeg.DecodeBytes(data, c.DecodeOptions)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (c *JPEG) Name() string {
	return "jpeg"
}

func (c *JPEG) MediaType() string {
	return "image/jpeg"
}

func (c *JPEG) Magic() []byte {
	return []byte{0xFF, 0xD8, 0xFF}
}

func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", decodeJPEG, jpeg.DecodeConfig)
}

// decodeJPEG adapts jpeg.Decode to image.RegisterFormat.
func decodeJPEG(r io.Reader) (image.Image, error) {
	return jpeg.Decode(r, nil)
}

// codecsByName maps codec names to implementations
var codecsByName = map[string]Codec{
	"jpeg": &JPEG{},
	"jpg":  &JPEG{}, // alias
}

// CodecJPEG is the registered JPEG codec with default options.
var CodecJPEG = codecsByName["jpeg"]

// Lookup returns a codec by name, or nil if not found
func Lookup(name string) Codec {
	return codecsByName[name]
}

// Names lists the registered names, aliases included, in sorted order.
func Names() []string {
	names := make([]string, 0, len(codecsByName))
	for n := range codecsByName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sniff returns the codec whose magic opens data, or nil.
func Sniff(data []byte) Codec {
	for _, n := range Names() {
		c := codecsByName[n]
		if bytes.HasPrefix(data, c.Magic()) {
			return c
		}
	}
	return nil
}

// CompressionRatio encodes img with c and returns the uncompressed size
// (8 bits per RGB sample) divided by the compressed size.
func CompressionRatio(c Codec, img image.Image) (float64, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, img); err != nil {
		return 0, fmt.Errorf("%s: %w", c.Name(), err)
	}
	if buf.Len() == 0 {
		return 0, fmt.Errorf("%s: empty output", c.Name())
	}
	b := img.Bounds()
	return float64(3*b.Dx()*b.Dy()) / float64(buf.Len()), nil
}
