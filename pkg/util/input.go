package util

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// InputOptions tune OpenInput.
type InputOptions struct {
	// Insecure skips TLS verification for https URIs.
	Insecure bool
	// Client overrides the HTTP client; nil builds one from Insecure.
	Client *http.Client
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error { return r.close() }

// OpenInput opens "-" (stdin), an http(s) URL, or a file path (optionally
// prefixed with file://). gzip and zstd payloads are decompressed
// transparently, detected by their magic bytes.
func OpenInput(ctx context.Context, uri string, opts *InputOptions) (io.ReadCloser, error) {
	if opts == nil {
		opts = &InputOptions{}
	}
	uri = strings.TrimPrefix(uri, "file://")
	var src io.ReadCloser
	switch {
	case uri == "":
		return nil, fmt.Errorf("no input given")
	case uri == "-":
		src = io.NopCloser(os.Stdin)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		cl := opts.Client
		if cl == nil {
			cl = &http.Client{
				Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.Insecure}},
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := cl.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to download: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to download %s: %s", uri, resp.Status)
		}
		src = resp.Body
	default:
		f, err := os.Open(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		src = f
	}
	rc, err := decompress(src)
	if err != nil {
		src.Close()
		return nil, err
	}
	return rc, nil
}

// decompress wraps src in a gzip or zstd reader when its first bytes carry
// the matching magic. Close releases the decoder and src.
func decompress(src io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(src)
	head, _ := br.Peek(len(zstdMagic))
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read gzip input: %w", err)
		}
		return &readCloser{Reader: zr, close: func() error {
			zr.Close()
			return src.Close()
		}}, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read zstd input: %w", err)
		}
		return &readCloser{Reader: zr, close: func() error {
			zr.Close()
			return src.Close()
		}}, nil
	}
	return &readCloser{Reader: br, close: src.Close}, nil
}

// ReadInput reads everything OpenInput yields for uri.
func ReadInput(ctx context.Context, uri string, opts *InputOptions) ([]byte, error) {
	rc, err := OpenInput(ctx, uri, opts)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}
