// Package media wraps the ffmpeg command line: probing videos, decoding a
// single frame at a timestamp, and encoding a staged frame sequence.
package media

import (
	"context"
	"image"
)

// FrameSource decodes frames of one video at arbitrary timestamps.
// Seeking is stateful, so a FrameSource must not be used concurrently.
type FrameSource interface {
	// SeekAndDecode returns the frame displayed at t seconds.
	SeekAndDecode(ctx context.Context, t float64) (image.Image, error)
	// Close releases any decoder resources.
	Close() error
}

// VideoSource is an opened video ready for frame extraction.
type VideoSource struct {
	Frames FrameSource
	// Width and Height are the dimensions of decoded frames, after any
	// container rotation has been applied by the decoder.
	Width  int
	Height int
	// Duration is in seconds.
	Duration  float64
	FrameRate float64
	// HasAudio is what the container metadata claims.
	HasAudio bool
	// AudioCodec is the ffprobe codec name of the first audio stream.
	AudioCodec string
	// Path is the original container, used for audio stream copy.
	Path string
}

// FrameCount returns the number of frames sampled at FrameRate over
// Duration, rounded up.
func (v *VideoSource) FrameCount() int {
	return FrameCount(v.Duration, v.FrameRate)
}

// Close releases the frame source.
func (v *VideoSource) Close() error {
	if v.Frames == nil {
		return nil
	}
	return v.Frames.Close()
}

// Opener probes a video file and prepares it for frame extraction.
type Opener interface {
	OpenVideo(ctx context.Context, path string) (*VideoSource, error)
}

// Encoder turns a staged frame sequence into a video file.
type Encoder interface {
	EncodeFrames(ctx context.Context, spec EncodeSpec) error
}
