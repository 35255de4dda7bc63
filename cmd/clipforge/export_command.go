package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/maauso/clipforge/internal/export"
	"github.com/maauso/clipforge/internal/geometry"
	"github.com/maauso/clipforge/internal/media"
	"github.com/maauso/clipforge/internal/storage"
)

type exportFlags struct {
	aspect       string
	rotation     int
	offsetX      float64
	offsetY      float64
	trimStart    time.Duration
	trimDuration time.Duration
	metadata     []string
	outputDir    string
	quiet        bool
}

// configuration turns the flags into an export configuration. Offsets are
// rejected rather than clamped so typos surface.
func (f exportFlags) configuration() (export.Configuration, error) {
	cfg := export.NewConfiguration()

	if a := strings.TrimSpace(f.aspect); a != "" {
		aspect, err := geometry.ParseAspectRatio(a)
		if err != nil {
			return cfg, err
		}
		cfg = cfg.WithAspectRatio(aspect)
	}

	rotation, err := geometry.RotationFromDegrees(f.rotation)
	if err != nil {
		return cfg, err
	}
	cfg = cfg.WithRotation(rotation)

	offset := geometry.Offset{X: f.offsetX, Y: f.offsetY}
	if err := offset.Validate(); err != nil {
		return cfg, err
	}
	cfg = cfg.WithOffset(offset)

	switch {
	case f.trimStart < 0 || f.trimDuration < 0:
		return cfg, errors.New("trim start and duration must be non-negative")
	case f.trimDuration > 0:
		cfg = cfg.WithTrimRange(media.TimeRange{Start: f.trimStart, Duration: f.trimDuration})
	case f.trimStart > 0:
		return cfg, errors.New("--trim-start requires --trim-duration")
	}

	items, err := parseMetadata(f.metadata)
	if err != nil {
		return cfg, err
	}
	return cfg.WithMetadata(items), nil
}

// parseMetadata parses key=value pairs, keeping their order.
func parseMetadata(pairs []string) ([]media.MetadataItem, error) {
	items := make([]media.MetadataItem, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q: want key=value", pair)
		}
		items = append(items, media.MetadataItem{Key: key, Value: value})
	}
	return items, nil
}

// progressPrinter reports export progress. On a terminal it rewrites a
// single line; otherwise it prints a line every ten percent.
type progressPrinter struct {
	w           io.Writer
	interactive bool
	last        int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, interactive: isTerminal(w), last: -1}
}

func (p *progressPrinter) report(fraction float64) {
	pct := int(fraction * 100)
	if !p.interactive {
		pct -= pct % 10
	}
	if pct == p.last {
		return
	}
	p.last = pct
	if !p.interactive {
		fmt.Fprintf(p.w, "exporting %3d%%\n", pct)
		return
	}
	fmt.Fprintf(p.w, "\rexporting %3d%%", pct)
	if fraction >= 1 {
		fmt.Fprintln(p.w)
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newExportCommand(root *rootOptions) *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "export <input>",
		Short: "Export a clip of a video file",
		Long: "Export reframes the input to the requested aspect ratio, applies rotation,\n" +
			"pan offset and trim, and writes an MP4 into the output directory. The\n" +
			"output path is printed on success.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.configuration()
			if err != nil {
				return err
			}
			if !flags.quiet {
				cfg = cfg.WithProgress(newProgressPrinter(cmd.ErrOrStderr()).report)
			}

			input, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			info, err := os.Stat(input)
			if err != nil {
				return fmt.Errorf("inspect input: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", input)
			}

			outputDir, err := filepath.Abs(flags.outputDir)
			if err != nil {
				return fmt.Errorf("resolve output dir: %w", err)
			}
			store, err := storage.NewLocalStorage(filepath.Join(os.TempDir(), "clipforge"), outputDir)
			if err != nil {
				return err
			}
			asset, err := media.OpenProbeAsset(input, media.WithFFprobePath(root.ffprobePath))
			if err != nil {
				return err
			}

			logger := root.logger(cmd)
			exporter := export.New(media.NewFFmpegEncoder(root.ffmpegPath), store, cfg, logger)
			result, err := exporter.Export(cmd.Context(), asset)
			if err != nil {
				if result.OutputPath != "" {
					_ = store.CleanupTemp(context.WithoutCancel(cmd.Context()), []string{result.OutputPath})
				}
				return err
			}

			for _, track := range result.SkippedAudioTracks {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipped unreadable audio track %d\n", track)
			}
			if info, err := os.Stat(result.OutputPath); err == nil && !flags.quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s with %d audio track(s)\n",
					humanize.IBytes(uint64(info.Size())), result.AudioTracks)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.OutputPath)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.aspect, "aspect", "a", "", "Output aspect ratio: portrait, landscape or square (default: source's)")
	f.IntVarP(&flags.rotation, "rotation", "r", 0, "Clockwise rotation in degrees, a multiple of 90")
	f.Float64Var(&flags.offsetX, "offset-x", 0, "Horizontal pan in [-1, 1]")
	f.Float64Var(&flags.offsetY, "offset-y", 0, "Vertical pan in [-1, 1], positive moves the image up")
	f.DurationVar(&flags.trimStart, "trim-start", 0, "Start of the exported range, e.g. 1.5s")
	f.DurationVar(&flags.trimDuration, "trim-duration", 0, "Length of the exported range (default: whole source)")
	f.StringArrayVarP(&flags.metadata, "meta", "m", nil, "Metadata key=value, repeatable")
	f.StringVarP(&flags.outputDir, "output-dir", "o", ".", "Directory for the exported file")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "Do not print progress")

	return cmd
}
