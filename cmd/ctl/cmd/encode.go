package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"io"
	"log/slog"

	"github.com/jpfielding/jpegx/pkg/codec"
	"github.com/jpfielding/jpegx/pkg/compress/jpeg"
	"github.com/jpfielding/jpegx/pkg/logging"
	"github.com/jpfielding/jpegx/pkg/util"
	"github.com/spf13/cobra"
)

// NewEncodeCmd encodes PNG, GIF or JPEG input as a baseline JPEG
func NewEncodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode [uri]",
		Short: "JPEG encode",
		Long:  "Encodes a PNG, GIF or JPEG image as a 4:2:0 baseline JPEG with optimized Huffman tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, _ := cmd.Flags().GetString("uri")
			out, _ := cmd.Flags().GetString("out")
			quality, _ := cmd.Flags().GetInt("quality")
			restart, _ := cmd.Flags().GetInt("restart")
			maxMemory, _ := cmd.Flags().GetInt64("max-memory")
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
			img, kind, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("decode %s: %w", uri, err)
			}

			c := &codec.JPEG{EncodeOptions: &jpeg.EncodeOptions{
				Quality:         quality,
				RestartInterval: restart,
				MaxMemory:       maxMemory,
			}}
			var buf bytes.Buffer
			if err := c.Encode(&buf, img); err != nil {
				return fmt.Errorf("encode %s: %w", uri, err)
			}
			b := img.Bounds()
			slog.InfoContext(ctx, "encoded",
				"source", kind,
				"width", b.Dx(),
				"height", b.Dy(),
				"bytes", buf.Len(),
				"ratio", float64(3*b.Dx()*b.Dy())/float64(buf.Len()))

			return writeImage(cmd.OutOrStdout(), out, func(w io.Writer) error {
				_, err := w.Write(buf.Bytes())
				return err
			})
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("uri", "u", "", "PNG, GIF or JPEG file, http(s) URL or - for stdin (gzip/zstd accepted)")
	pf.StringP("out", "o", "-", "output path, - for stdout")
	pf.Int("quality", 0, "quality 1..100, 0 picks one from the image content")
	pf.Int("restart", 0, "restart interval in MCUs, 0 for none")
	pf.Int64("max-memory", jpeg.DefaultMaxMemory, "encoder memory budget in bytes")
	pf.Bool("insecure", false, "skip TLS verification for https inputs")
	return cmd
}
