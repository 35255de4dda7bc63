package main

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/maauso/clipforge/internal/geometry"
	"github.com/maauso/clipforge/internal/media"
)

type trackSummary struct {
	ID         int     `json:"id"`
	Enabled    bool    `json:"enabled"`
	StartMs    int64   `json:"start_ms"`
	DurationMs int64   `json:"duration_ms"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	DisplayW   int     `json:"display_width,omitempty"`
	DisplayH   int     `json:"display_height,omitempty"`
	Rotation   int     `json:"rotation,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	Aspect     string  `json:"aspect_ratio,omitempty"`
	Unreadable string  `json:"unreadable,omitempty"`
}

type assetSummary struct {
	Path     string               `json:"path"`
	Video    []trackSummary       `json:"video"`
	Audio    []trackSummary       `json:"audio"`
	Metadata []media.MetadataItem `json:"metadata,omitempty"`
}

func newProbeCommand(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe <input>",
		Short: "Show the tracks an export would read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asset, err := media.OpenProbeAsset(args[0], media.WithFFprobePath(root.ffprobePath))
			if err != nil {
				return err
			}
			summary, err := describeAsset(cmd.Context(), asset)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, summary)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

// describeAsset summarises asset. Tracks whose properties cannot be read
// are listed with the reason instead of failing the whole probe.
func describeAsset(ctx context.Context, asset media.Asset) (assetSummary, error) {
	summary := assetSummary{Path: asset.Path(), Video: []trackSummary{}, Audio: []trackSummary{}}

	videos, err := asset.VideoTracks(ctx)
	if err != nil {
		return summary, fmt.Errorf("video tracks: %w", err)
	}
	for _, t := range videos {
		summary.Video = append(summary.Video, describeVideo(ctx, t))
	}

	audios, err := asset.AudioTracks(ctx)
	if err != nil {
		return summary, fmt.Errorf("audio tracks: %w", err)
	}
	for _, t := range audios {
		summary.Audio = append(summary.Audio, describeCommon(ctx, t))
	}

	if items, err := asset.Metadata(ctx); err == nil {
		summary.Metadata = items
	}
	return summary, nil
}

func describeCommon(ctx context.Context, t media.Track) trackSummary {
	s := trackSummary{ID: t.ID()}
	enabled, err := t.IsEnabled(ctx)
	if err != nil {
		s.Unreadable = err.Error()
		return s
	}
	s.Enabled = enabled
	r, err := t.TimeRange(ctx)
	if err != nil {
		s.Unreadable = err.Error()
		return s
	}
	s.StartMs, s.DurationMs = r.Start.Milliseconds(), r.Duration.Milliseconds()
	return s
}

func describeVideo(ctx context.Context, t media.Track) trackSummary {
	s := describeCommon(ctx, t)
	if s.Unreadable != "" {
		return s
	}
	size, err := t.NaturalSize(ctx)
	if err != nil {
		s.Unreadable = err.Error()
		return s
	}
	preferred, err := t.PreferredTransform(ctx)
	if err != nil {
		s.Unreadable = err.Error()
		return s
	}
	rate, err := t.NominalFrameRate(ctx)
	if err != nil {
		s.Unreadable = err.Error()
		return s
	}

	display := preferred.ApplyToSize(size).Abs()
	rotation, _ := preferred.Orientation()
	s.Width, s.Height = roundInt(size.Width), roundInt(size.Height)
	s.DisplayW, s.DisplayH = roundInt(display.Width), roundInt(display.Height)
	s.Rotation = rotation.Degrees()
	s.FrameRate = rate
	s.Aspect = string(geometry.AspectRatioFrom(display))
	return s
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
