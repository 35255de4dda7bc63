package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maauso/clipforge/internal/geometry"
)

// presetArgs maps presets to ffmpeg codec settings.
var presetArgs = map[Preset][]string{
	PresetHighestQuality: {
		"-c:v", "libx264",
		"-preset", "slow",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
	},
}

// audioArgs are appended when the composition carries audio.
var audioArgs = []string{"-c:a", "aac", "-b:a", "192k"}

// FFmpegEncoder implements Encoder using the ffmpeg CLI.
type FFmpegEncoder struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

var _ Encoder = (*FFmpegEncoder)(nil)

// NewFFmpegEncoder creates a new FFmpegEncoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegEncoder(ffmpegPath string) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEncoder{ffmpegPath: ffmpegPath}
}

// NewSession builds the ffmpeg invocation for c. The composition's layer
// instruction transform is realised as mirror/transpose, a scale to the
// transformed bounding box and an overlay onto a black canvas of the render
// size at the box origin.
func (e *FFmpegEncoder) NewSession(c *Composition, opts SessionOptions) (Session, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil composition", ErrIncompleteComposition)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.OutputPath) == "" {
		return nil, ErrOutputPathRequired
	}
	if opts.FileType != FileTypeMP4 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, opts.FileType)
	}
	codec, ok := presetArgs[opts.Preset]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPreset, opts.Preset)
	}

	window := c.Video.SourceRange
	if opts.TimeRange != nil {
		if err := opts.TimeRange.Validate(); err != nil {
			return nil, err
		}
		window = *opts.TimeRange
	}
	if window.IsEmpty() {
		return nil, fmt.Errorf("%w: empty output range", ErrIncompleteComposition)
	}

	rate := frameRateArg(c.FrameDuration)
	args := []string{
		"-y",
		"-hide_banner",
		"-nostats",
		"-progress", "pipe:1",
		"-noautorotate",
		"-ss", formatSeconds(window.Start),
		"-t", formatSeconds(window.Duration),
		"-i", c.SourcePath,
		"-filter_complex", videoFilterGraph(c, rate),
		"-map", "[vout]",
	}
	for _, a := range c.Audio {
		args = append(args, "-map", fmt.Sprintf("0:%d", a.SourceTrackID))
	}
	args = append(args, "-r", rate)
	args = append(args, codec...)
	if len(c.Audio) > 0 {
		args = append(args, audioArgs...)
	}
	args = append(args, "-map_metadata", "-1")
	for _, item := range opts.Metadata {
		if item.Key == "" || strings.Contains(item.Key, "=") {
			continue
		}
		args = append(args, "-metadata", item.Key+"="+item.Value)
	}
	args = append(args,
		"-movflags", "+faststart+use_metadata_tags",
		"-f", string(opts.FileType),
		opts.OutputPath,
	)

	return &FFmpegSession{
		ffmpegPath: e.ffmpegPath,
		args:       args,
		duration:   window.Duration,
	}, nil
}

// videoFilterGraph renders the layer transform for the composition's video track.
func videoFilterGraph(c *Composition, rate string) string {
	transform := c.Instruction.Transform
	rotation, mirrored := transform.Orientation()
	box := transform.BoundingBox(c.Video.NaturalSize)

	steps := make([]string, 0, 5)
	if mirrored {
		steps = append(steps, "hflip")
	}
	switch rotation {
	case geometry.Rotation90:
		steps = append(steps, "transpose=clock")
	case geometry.Rotation180:
		steps = append(steps, "hflip", "vflip")
	case geometry.Rotation270:
		steps = append(steps, "transpose=cclock")
	}
	// Snap outward to whole pixels so rounding never uncovers a canvas edge.
	left, top := math.Floor(snap(box.X)), math.Floor(snap(box.Y))
	width := int(math.Ceil(snap(box.X+box.Width)) - left)
	height := int(math.Ceil(snap(box.Y+box.Height)) - top)
	steps = append(steps,
		fmt.Sprintf("scale=%d:%d", width, height),
		"setsar=1",
	)

	render := c.RenderSize
	return fmt.Sprintf(
		"color=c=black:s=%dx%d:r=%s[bg];[0:%d]%s[fg];[bg][fg]overlay=x=%d:y=%d:shortest=1,format=yuv420p[vout]",
		roundInt(render.Width), roundInt(render.Height), rate,
		c.Video.SourceTrackID, strings.Join(steps, ","),
		int(left), int(top),
	)
}

// FFmpegSession is a prepared ffmpeg encode.
type FFmpegSession struct {
	ffmpegPath string
	args       []string
	duration   time.Duration

	started  atomic.Bool
	progress atomic.Uint64
}

var _ Session = (*FFmpegSession)(nil)

// Args returns a copy of the ffmpeg arguments.
func (s *FFmpegSession) Args() []string {
	return append([]string(nil), s.args...)
}

// Progress returns the last fraction reported by ffmpeg.
func (s *FFmpegSession) Progress() float64 {
	return math.Float64frombits(s.progress.Load())
}

// Run executes ffmpeg and tracks its -progress output until it exits.
func (s *FFmpegSession) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionAlreadyRun
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, s.ffmpegPath, s.args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &FFmpegError{Args: s.args, Stderr: stderr.String(), Err: err}
	}

	s.readProgress(stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   s.args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// readProgress consumes key=value blocks written by `-progress pipe:1`.
func (s *FFmpegSession) readProgress(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us":
			us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				continue
			}
			s.storeProgress(progressFraction(time.Duration(us)*time.Microsecond, s.duration))
		case "progress":
			if strings.TrimSpace(value) == "end" {
				s.storeProgress(1)
			}
		}
	}
	// Drain anything left so ffmpeg never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

func (s *FFmpegSession) storeProgress(fraction float64) {
	s.progress.Store(math.Float64bits(fraction))
}

func progressFraction(done, total time.Duration) float64 {
	if total <= 0 || done <= 0 {
		return 0
	}
	return math.Min(1, float64(done)/float64(total))
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// frameRateArg expresses a frame duration as an exact nanosecond-timescale rational.
func frameRateArg(frameDuration time.Duration) string {
	return fmt.Sprintf("%d/%d", int64(time.Second), int64(frameDuration))
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// snap removes float noise around whole pixels before floor/ceil.
func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < 1e-6 {
		return r
	}
	return v
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
