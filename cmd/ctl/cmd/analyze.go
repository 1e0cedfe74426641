package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/jpfielding/jpegx/pkg/compress/jpeg"
	"github.com/jpfielding/jpegx/pkg/logging"
	"github.com/jpfielding/jpegx/pkg/util"
	"github.com/spf13/cobra"
)

// NewAnalyzeCmd creates the analyze cobra command
func NewAnalyzeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [uri]",
		Short: "Analyze JPEG marker structure",
		Long:  "Indexes a JPEG stream and prints its frames, scans, restart intervals and auxiliary markers, then test-decodes it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, _ := cmd.Flags().GetString("uri")
			format, _ := cmd.Flags().GetString("format")
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
			rep, err := analyze(logging.AppendCtx(ctx, slog.String("input", uri)), data)
			if err != nil {
				return err
			}
			return rep.write(cmd.OutOrStdout(), format)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("uri", "u", "", "JPEG file, http(s) URL or - for stdin (gzip/zstd accepted)")
	pf.StringP("format", "f", "text", "output format (text|json)")
	pf.Bool("insecure", false, "skip TLS verification for https inputs")
	return cmd
}

type scanReport struct {
	Offset    int `json:"offset"`
	Intervals int `json:"intervals"`
	Bytes     int `json:"bytes"`
}

type frameReport struct {
	Offset  int          `json:"offset"`
	Marker  string       `json:"marker"`
	Process string       `json:"process"`
	Scans   []scanReport `json:"scans"`
}

type report struct {
	ID           string        `json:"id"`
	LayoutID     string        `json:"layoutId"`
	Size         int           `json:"size"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Orientation  int           `json:"orientation"`
	JFIF         bool          `json:"jfif"`
	Adobe        bool          `json:"adobe"`
	Exif         bool          `json:"exif"`
	Hierarchical bool          `json:"hierarchical"`
	Tables       []string      `json:"tables"`
	Frames       []frameReport `json:"frames"`
	DecodeError  string        `json:"decodeError,omitempty"`
}

// analyze indexes data and test-decodes it. Layout errors fail the command;
// decode errors are reported.
func analyze(ctx context.Context, data []byte) (*report, error) {
	l, err := jpeg.ParseLayout(data)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	rep := &report{
		ID:           util.ContentID(data),
		Size:         len(data),
		JFIF:         l.JFIF >= 0,
		Adobe:        l.Adobe >= 0,
		Exif:         l.Exif >= 0,
		Hierarchical: l.Hierarchical(),
	}
	for _, off := range l.Tables {
		rep.Tables = append(rep.Tables, jpeg.MarkerName(data[off+1]))
	}
	for _, f := range l.Frames {
		fr := frameReport{Offset: f.Offset, Marker: jpeg.MarkerName(f.Marker), Process: f.Flags.String()}
		for _, s := range f.Scans {
			sr := scanReport{Offset: s.Offset, Intervals: len(s.Segments)}
			for _, seg := range s.Segments {
				sr.Bytes += seg.Length
			}
			fr.Scans = append(fr.Scans, sr)
		}
		rep.Frames = append(rep.Frames, fr)
	}
	rep.LayoutID = util.HashUUID(rep.Frames)

	if rep.Orientation, err = jpeg.Orientation(data); err != nil {
		return nil, err
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		rep.DecodeError = err.Error()
		return rep, nil
	}
	rep.Width, rep.Height = cfg.Width, cfg.Height

	ctx = logging.AppendCtx(ctx, slog.String("id", rep.ID))
	if _, err := jpeg.DecodeBytes(data, nil); err != nil {
		slog.WarnContext(ctx, "test decode failed", "error", err)
		rep.DecodeError = err.Error()
	} else {
		slog.DebugContext(ctx, "test decode succeeded")
	}
	return rep, nil
}

func (r *report) write(w io.Writer, format string) error {
	switch format {
	case "json":
		j, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(j))
		return err
	case "text":
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	fmt.Fprintf(w, "ID: %s\n", r.ID)
	fmt.Fprintf(w, "Size: %d bytes\n", r.Size)
	fmt.Fprintf(w, "Dimensions: %dx%d\n", r.Width, r.Height)
	fmt.Fprintf(w, "Orientation: %d\n", r.Orientation)
	fmt.Fprintf(w, "JFIF: %v  Adobe: %v  Exif: %v\n", r.JFIF, r.Adobe, r.Exif)
	fmt.Fprintf(w, "Hierarchical: %v\n", r.Hierarchical)
	fmt.Fprintf(w, "Tables: %v\n", r.Tables)
	for i, f := range r.Frames {
		fmt.Fprintf(w, "\n--- Frame %d (%s, %s) at %d ---\n", i, f.Marker, f.Process, f.Offset)
		for j, s := range f.Scans {
			fmt.Fprintf(w, "Scan %d at %d: %d restart intervals, %d bytes\n", j, s.Offset, s.Intervals, s.Bytes)
		}
	}
	if r.DecodeError != "" {
		fmt.Fprintf(w, "\nDecode error: %s\n", r.DecodeError)
	} else {
		fmt.Fprintln(w, "\nDecode: ok")
	}
	return nil
}
