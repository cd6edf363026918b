package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const (
	// DefaultFrameRate is assumed when a container reports no usable rate.
	DefaultFrameRate = 30.0
	// MaxFrameRate is the highest probed rate taken at face value. Variable
	// rate streams often report a timebase such as 1000/1 instead.
	MaxFrameRate = 240.0
)

// ProbeResult is the subset of ffprobe output the exporter needs.
type ProbeResult struct {
	Width     int
	Height    int
	Duration  float64
	FrameRate float64
	HasAudio  bool
	// AudioCodec is the codec of the first audio stream, if any.
	AudioCodec string
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on path.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ffprobe cancelled: %w", err)
	}

	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFFprobeExecution, err)
	}
	return ParseProbe([]byte(raw), p.defaultFrameRate)
}

// ParseProbe extracts dimensions, duration, frame rate and audio presence
// from ffprobe JSON. Stream duration wins over container duration. Rates
// above MaxFrameRate are ignored in favor of the next candidate.
func ParseProbe(data []byte, defaultFPS float64) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var video *probeStream
	res := &ProbeResult{}
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if !res.HasAudio {
				res.AudioCodec = s.CodecName
			}
			res.HasAudio = true
		}
	}
	if video == nil {
		return nil, fmt.Errorf("%w: no video stream found", ErrFFprobeExecution)
	}

	res.Width, res.Height = video.Width, video.Height

	res.Duration = parseSeconds(video.Duration)
	if res.Duration <= 0 {
		res.Duration = parseSeconds(out.Format.Duration)
	}
	if res.Duration <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidDuration, res.Duration)
	}

	res.FrameRate = defaultFPS
	for _, raw := range []string{video.AvgFrameRate, video.RFrameRate} {
		if r := ParseFrameRate(raw); r > 0 && r <= MaxFrameRate {
			res.FrameRate = r
			break
		}
	}
	return res, nil
}

// ParseFrameRate parses ffprobe rates such as "30000/1001" or "25".
// It returns 0 for anything unusable, including "0/0".
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d := 1.0
	if found {
		if d, err = strconv.ParseFloat(den, 64); err != nil || d == 0 {
			return 0
		}
	}

	r := n / d
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
