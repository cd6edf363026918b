package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Messages ffmpeg prints when the input has nothing for -vn to keep.
var noStreamMarkers = []string{
	"does not contain any stream",
	"matches no streams",
	"Output file is empty",
}

// FFmpegDemuxer implements Demuxer using the ffmpeg CLI.
type FFmpegDemuxer struct {
	ffmpegPath string
}

// NewFFmpegDemuxer creates a new FFmpegDemuxer.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegDemuxer(ffmpegPath string) *FFmpegDemuxer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegDemuxer{ffmpegPath: ffmpegPath}
}

// ExtractArgs returns the ffmpeg arguments that copy the audio of input
// into output without re-encoding.
func ExtractArgs(input, output string) []string {
	return []string{
		"-y",
		"-i", input,
		"-vn",
		"-map", "0:a:0?",
		"-acodec", "copy",
		output,
	}
}

// Extract implements Demuxer.Extract.
func (d *FFmpegDemuxer) Extract(ctx context.Context, input, output string) (bool, error) {
	if _, err := os.Stat(input); err != nil {
		return false, fmt.Errorf("input file: %w", err)
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, d.ffmpegPath, ExtractArgs(input, output)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		_ = os.Remove(output)
		return false, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}
	if err != nil {
		_ = os.Remove(output)
		if IsNoAudio(stderr.String()) {
			return false, nil
		}
		return false, fmt.Errorf("ffmpeg error: %w, stderr: %s", err, stderr.String())
	}

	// With an optional map ffmpeg may succeed and write nothing useful.
	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(output)
		return false, nil
	}
	return true, nil
}

// IsNoAudio reports whether ffmpeg output says the input had no audio
// stream to copy.
func IsNoAudio(stderr string) bool {
	for _, m := range noStreamMarkers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}
