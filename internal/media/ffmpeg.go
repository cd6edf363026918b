package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrInvalidDimensions is returned when a decoded frame has no pixels.
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")
	// ErrInvalidDuration is returned when duration is not positive.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")
	// ErrInvalidFrameRate is returned when a frame rate is not positive.
	ErrInvalidFrameRate = errors.New("invalid frame rate: must be positive")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoFrame is returned when ffmpeg produced no frame for a timestamp.
	ErrNoFrame = errors.New("no frame decoded")
)

// Encoding defaults for exported video.
const (
	DefaultCRF     = 23
	DefaultPreset  = "fast"
	FramePattern   = "frame_%05d.png"
	VideoCodec     = "libx264"
	VideoPixFormat = "yuv420p"
	// AudioFallbackCodec re-encodes audio the MP4 muxer cannot carry.
	AudioFallbackCodec   = "aac"
	AudioFallbackBitrate = "192k"
)

// mp4AudioCodecs are the ffprobe codec names the MP4 muxer accepts by
// stream copy.
var mp4AudioCodecs = map[string]bool{
	"aac":  true,
	"mp3":  true,
	"mp2":  true,
	"ac3":  true,
	"eac3": true,
	"alac": true,
}

// CanCopyAudio reports whether audio in codec can be stream-copied into
// MP4. An unknown (empty) codec is copied as is.
func CanCopyAudio(codec string) bool {
	return codec == "" || mp4AudioCodecs[strings.ToLower(codec)]
}

// FrameName returns the staged file name of frame i.
func FrameName(i int) string {
	return fmt.Sprintf(FramePattern, i)
}

// FrameCount returns ceil(duration*fps).
func FrameCount(duration, fps float64) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	// Guard against 10.0*30 landing a hair above 300.
	n := duration * fps
	if r := math.Round(n); math.Abs(n-r) < 1e-9 {
		return int(r)
	}
	return int(math.Ceil(n))
}

// FFmpegProcessor implements Opener and Encoder using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// defaultFrameRate is used when the container does not report one.
	defaultFrameRate float64
}

// ProcessorOption configures an FFmpegProcessor.
type ProcessorOption func(*FFmpegProcessor)

// WithDefaultFrameRate sets the frame rate assumed when probing fails to
// report one.
func WithDefaultFrameRate(fps float64) ProcessorOption {
	return func(p *FFmpegProcessor) {
		if fps > 0 {
			p.defaultFrameRate = fps
		}
	}
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string, opts ...ProcessorOption) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	p := &FFmpegProcessor{ffmpegPath: ffmpegPath, defaultFrameRate: DefaultFrameRate}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Path returns the ffmpeg binary this processor runs.
func (p *FFmpegProcessor) Path() string {
	return p.ffmpegPath
}

// Version runs "ffmpeg -version" and returns the first line of its output.
func (p *FFmpegProcessor) Version(ctx context.Context) (string, error) {
	out, err := p.runFFmpegOutput(ctx, []string{"-hide_banner", "-version"})
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// OpenVideo probes path and decodes its first frame to learn the real frame
// dimensions.
func (p *FFmpegProcessor) OpenVideo(ctx context.Context, path string) (*VideoSource, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	frames := &ffmpegFrames{p: p, path: path}
	first, err := frames.SeekAndDecode(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("decode first frame: %w", err)
	}
	b := first.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, b.Dx(), b.Dy())
	}

	return &VideoSource{
		Frames:     frames,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Duration:   info.Duration,
		FrameRate:  info.FrameRate,
		HasAudio:   info.HasAudio,
		AudioCodec: info.AudioCodec,
		Path:       path,
	}, nil
}

// SeekAndDecode decodes the frame shown at t seconds as an image.
func (p *FFmpegProcessor) SeekAndDecode(ctx context.Context, path string, t float64) (image.Image, error) {
	out, err := p.runFFmpegOutput(ctx, SeekArgs(path, t))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w at %.3fs", ErrNoFrame, t)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode frame png: %w", err)
	}
	return img, nil
}

// SeekArgs returns the ffmpeg arguments that write the frame at t seconds
// of path to stdout as a PNG.
func SeekArgs(path string, t float64) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(t, 'f', 6, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "png",
		"-",
	}
}

// EncodeSpec describes one batch encode of a staged frame sequence.
type EncodeSpec struct {
	// Dir holds frames named per FramePattern, starting at index 0.
	Dir string
	// FrameRate must equal the rate the frames were sampled at.
	FrameRate float64
	// AudioPath is an optional audio file to mux into the output.
	AudioPath string
	// AudioCodec is the codec of AudioPath. Codecs MP4 cannot hold are
	// re-encoded to AAC, all others are stream-copied.
	AudioCodec string
	Output     string
	CRF        int
	Preset     string
}

// Validate checks the fields that have no default.
func (s EncodeSpec) Validate() error {
	if s.FrameRate <= 0 || math.IsNaN(s.FrameRate) || math.IsInf(s.FrameRate, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidFrameRate, s.FrameRate)
	}
	if s.Dir == "" || s.Output == "" {
		return errors.New("encode spec requires frame directory and output")
	}
	return nil
}

// BuildEncodeArgs returns the ffmpeg arguments for spec: H.264 yuv420p in
// MP4 with faststart, and the audio track when AudioPath is set.
func BuildEncodeArgs(spec EncodeSpec) []string {
	crf := spec.CRF
	if crf <= 0 {
		crf = DefaultCRF
	}
	preset := spec.Preset
	if preset == "" {
		preset = DefaultPreset
	}

	args := []string{
		"-y",
		"-framerate", strconv.FormatFloat(spec.FrameRate, 'f', -1, 64),
		"-i", filepath.Join(spec.Dir, FramePattern),
	}
	if spec.AudioPath != "" {
		args = append(args, "-i", spec.AudioPath)
	}

	args = append(args,
		"-c:v", VideoCodec,
		"-pix_fmt", VideoPixFormat,
		"-crf", strconv.Itoa(crf),
		"-preset", preset,
	)
	if spec.AudioPath != "" {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
		if CanCopyAudio(spec.AudioCodec) {
			args = append(args, "-c:a", "copy")
		} else {
			args = append(args, "-c:a", AudioFallbackCodec, "-b:a", AudioFallbackBitrate)
		}
		args = append(args, "-shortest")
	}

	return append(args, "-movflags", "+faststart", spec.Output)
}

// EncodeFrames runs a single batch encode of the staged frames.
func (p *FFmpegProcessor) EncodeFrames(ctx context.Context, spec EncodeSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	return p.runFFmpeg(ctx, BuildEncodeArgs(spec))
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	_, err := p.run(ctx, args, false)
	return err
}

// runFFmpegOutput is runFFmpeg that also returns stdout.
func (p *FFmpegProcessor) runFFmpegOutput(ctx context.Context, args []string) ([]byte, error) {
	return p.run(ctx, args, true)
}

func (p *FFmpegProcessor) run(ctx context.Context, args []string, captureStdout bool) ([]byte, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	if captureStdout {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return nil, &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return stdout.Bytes(), nil
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

// ffmpegFrames is a FrameSource that runs one ffmpeg seek per frame.
type ffmpegFrames struct {
	p    *FFmpegProcessor
	path string
	// last is repeated when a timestamp lies past the final frame.
	last image.Image
}

func (f *ffmpegFrames) SeekAndDecode(ctx context.Context, t float64) (image.Image, error) {
	img, err := f.p.SeekAndDecode(ctx, f.path, t)
	if errors.Is(err, ErrNoFrame) && f.last != nil {
		return f.last, nil
	}
	if err != nil {
		return nil, err
	}
	f.last = img
	return img, nil
}

func (f *ffmpegFrames) Close() error {
	f.last = nil
	return nil
}
