// Package audio detects and extracts the audio track of a video so it can be
// muxed into an export without re-encoding.
package audio

import "context"

// Demuxer copies the audio stream of a container into its own file.
type Demuxer interface {
	// Extract stream-copies the first audio track of input into output.
	// It reports false with a nil error when input has no audio track.
	// Any other failure is returned as an error and output is removed.
	Extract(ctx context.Context, input, output string) (bool, error)
}
