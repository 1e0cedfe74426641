package cmd

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"

	"github.com/jpfielding/jpegx/pkg/compress/jpeg"
	"github.com/jpfielding/jpegx/pkg/logging"
	"github.com/jpfielding/jpegx/pkg/util"
	"github.com/spf13/cobra"
)

// NewDecodeCmd decodes a JPEG to PNG, or re-encodes it as a baseline JPEG
func NewDecodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [uri]",
		Short: "JPEG decode",
		Long:  "Decodes any sequential, progressive, lossless or hierarchical JPEG and writes the pixels as 16-bit PNG.",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, _ := cmd.Flags().GetString("uri")
			out, _ := cmd.Flags().GetString("out")
			format, _ := cmd.Flags().GetString("format")
			maxMemory, _ := cmd.Flags().GetInt64("max-memory")
			noRotate, _ := cmd.Flags().GetBool("no-rotate")
			insecure, _ := cmd.Flags().GetBool("insecure")
			if uri == "" && len(args) > 0 {
				uri = args[0]
			}
			if uri == "" {
				return fmt.Errorf("input is required. Use --uri flag or provide as argument")
			}

			data, err := util.ReadInput(ctx, uri, &util.InputOptions{Insecure: insecure})
			if err != nil {
				return err
			}
			ctx := logging.AppendCtx(ctx, slog.String("input", uri), slog.String("id", util.ContentID(data)))
			opts := jpeg.DefaultOptions()
			opts.AutoRotate = !noRotate
			if maxMemory > 0 {
				opts.MaxMemory = maxMemory
			}
			img, err := jpeg.DecodeBytes(data, opts)
			if err != nil {
				return fmt.Errorf("decode %s: %w", uri, err)
			}
			slog.InfoContext(ctx, "decoded", "width", img.Rect.Dx(), "height", img.Rect.Dy())

			return writeImage(cmd.OutOrStdout(), out, func(w io.Writer) error {
				return encodeAs(w, img, format, nil)
			})
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("uri", "u", "", "JPEG file, http(s) URL or - for stdin (gzip/zstd accepted)")
	pf.StringP("out", "o", "-", "output path, - for stdout")
	pf.StringP("format", "f", "png", "output format (png|jpeg)")
	pf.Int64("max-memory", jpeg.DefaultMaxMemory, "decoder memory budget in bytes")
	pf.Bool("no-rotate", false, "ignore the Exif orientation")
	pf.Bool("insecure", false, "skip TLS verification for https inputs")
	return cmd
}

// encodeAs writes img in the named format.
func encodeAs(w io.Writer, img image.Image, format string, opts *jpeg.EncodeOptions) error {
	switch format {
	case "png":
		return png.Encode(w, img)
	case "jpeg", "jpg":
		return jpeg.Encode(w, img, opts)
	}
	return fmt.Errorf("unknown format %q", format)
}

// writeImage runs write against stdout for "" or "-", otherwise against a
// new file that is removed again when write fails.
func writeImage(stdout io.Writer, path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
