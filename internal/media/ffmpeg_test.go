package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

// createTestVideo creates a 64x48 test pattern clip without audio.
func createTestVideo(t *testing.T, path string, duration float64, fps int) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=s=64x48:r=%d:d=%.1f", fps, duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func writeFrames(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 64, 64))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+3] = uint8(i*40), 255
		}
		f, err := os.Create(filepath.Join(dir, FrameName(i)))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		_ = f.Close()
	}
}

func TestNewFFmpegProcessor(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		if p.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", p.ffmpegPath)
		}
		if p.defaultFrameRate != DefaultFrameRate {
			t.Errorf("expected default frame rate %v, got %v", DefaultFrameRate, p.defaultFrameRate)
		}
	})

	t.Run("custom path and frame rate", func(t *testing.T) {
		p := NewFFmpegProcessor("/usr/local/bin/ffmpeg", WithDefaultFrameRate(24))
		if p.Path() != "/usr/local/bin/ffmpeg" {
			t.Errorf("expected custom path, got %q", p.Path())
		}
		if p.defaultFrameRate != 24 {
			t.Errorf("expected frame rate 24, got %v", p.defaultFrameRate)
		}
	})

	t.Run("non-positive frame rate ignored", func(t *testing.T) {
		p := NewFFmpegProcessor("", WithDefaultFrameRate(0))
		if p.defaultFrameRate != DefaultFrameRate {
			t.Errorf("got %v", p.defaultFrameRate)
		}
	})
}

func TestFrameCount(t *testing.T) {
	tests := []struct {
		duration, fps float64
		want          int
	}{
		{10, 30, 300},
		{10.02, 30, 301},
		{1.0 / 3, 30, 10},
		{0.01, 30, 1},
		{60, 29.97, 1799},
		{0, 30, 0},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := FrameCount(tt.duration, tt.fps); got != tt.want {
			t.Errorf("FrameCount(%v, %v) = %d, want %d", tt.duration, tt.fps, got, tt.want)
		}
	}
}

func TestFrameName(t *testing.T) {
	if got := FrameName(7); got != "frame_00007.png" {
		t.Errorf("FrameName(7) = %s", got)
	}
	if got := FrameName(1799); got != "frame_01799.png" {
		t.Errorf("FrameName(1799) = %s", got)
	}
}

func TestBuildEncodeArgs(t *testing.T) {
	t.Run("without audio", func(t *testing.T) {
		got := BuildEncodeArgs(EncodeSpec{Dir: "/work", FrameRate: 30, Output: "/work/output.mp4"})
		want := []string{
			"-y",
			"-framerate", "30",
			"-i", "/work/frame_%05d.png",
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-crf", "23",
			"-preset", "fast",
			"-movflags", "+faststart",
			"/work/output.mp4",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("BuildEncodeArgs() =\n%v\nwant\n%v", got, want)
		}
		for _, a := range got {
			if a == "-c:a" {
				t.Error("unexpected audio codec argument without audio")
			}
		}
	})

	t.Run("with audio", func(t *testing.T) {
		got := BuildEncodeArgs(EncodeSpec{
			Dir:       "/work",
			FrameRate: 30000.0 / 1001,
			AudioPath: "/work/audio.mka",
			Output:    "/work/output.mp4",
			CRF:       18,
			Preset:    "medium",
		})
		want := []string{
			"-y",
			"-framerate", "29.97002997002997",
			"-i", "/work/frame_%05d.png",
			"-i", "/work/audio.mka",
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-crf", "18",
			"-preset", "medium",
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:a", "copy",
			"-shortest",
			"-movflags", "+faststart",
			"/work/output.mp4",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("BuildEncodeArgs() =\n%v\nwant\n%v", got, want)
		}
	})

	t.Run("audio the mp4 muxer rejects is re-encoded", func(t *testing.T) {
		got := BuildEncodeArgs(EncodeSpec{
			Dir:        "/work",
			FrameRate:  25,
			AudioPath:  "/work/audio.mka",
			AudioCodec: "vorbis",
			Output:     "/work/output.mp4",
		})
		want := []string{
			"-y",
			"-framerate", "25",
			"-i", "/work/frame_%05d.png",
			"-i", "/work/audio.mka",
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-crf", "23",
			"-preset", "fast",
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:a", "aac",
			"-b:a", "192k",
			"-shortest",
			"-movflags", "+faststart",
			"/work/output.mp4",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("BuildEncodeArgs() =\n%v\nwant\n%v", got, want)
		}
	})
}

func TestCanCopyAudio(t *testing.T) {
	tests := []struct {
		codec string
		want  bool
	}{
		{"", true},
		{"aac", true},
		{"AAC", true},
		{"mp3", true},
		{"alac", true},
		{"vorbis", false},
		{"opus", false},
		{"flac", false},
		{"pcm_s16le", false},
	}
	for _, tt := range tests {
		if got := CanCopyAudio(tt.codec); got != tt.want {
			t.Errorf("CanCopyAudio(%q) = %v, want %v", tt.codec, got, tt.want)
		}
	}
}

func TestEncodeSpec_Validate(t *testing.T) {
	if err := (EncodeSpec{Dir: "d", Output: "o", FrameRate: 30}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (EncodeSpec{Dir: "d", Output: "o"}).Validate(); !errors.Is(err, ErrInvalidFrameRate) {
		t.Errorf("expected ErrInvalidFrameRate, got %v", err)
	}
	if err := (EncodeSpec{FrameRate: 30}).Validate(); err == nil {
		t.Error("expected error for missing paths")
	}
}

func TestSeekArgs(t *testing.T) {
	got := SeekArgs("in.mp4", 1.0/3)
	want := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", "0.333333",
		"-i", "in.mp4",
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "png",
		"-",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SeekArgs() = %v, want %v", got, want)
	}
}

func TestFFmpegError(t *testing.T) {
	inner := errors.New("exit status 1")
	var err error = &FFmpegError{Args: []string{"-i", "x"}, Stderr: "boom", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("expected FFmpegError to unwrap to inner error")
	}
	var ffErr *FFmpegError
	if !errors.As(fmt.Errorf("encode: %w", err), &ffErr) {
		t.Fatal("expected errors.As to find FFmpegError")
	}
	if ffErr.Stderr != "boom" {
		t.Errorf("Stderr = %q", ffErr.Stderr)
	}
}

func TestRunFFmpeg_MissingBinary(t *testing.T) {
	p := NewFFmpegProcessor(filepath.Join(t.TempDir(), "no-such-ffmpeg"))
	err := p.runFFmpeg(context.Background(), []string{"-version"})

	var ffErr *FFmpegError
	if !errors.As(err, &ffErr) {
		t.Errorf("expected FFmpegError, got %v", err)
	}
}

type stubFrames struct {
	img   image.Image
	calls int
}

func (s *stubFrames) SeekAndDecode(context.Context, float64) (image.Image, error) {
	s.calls++
	return s.img, nil
}

func (s *stubFrames) Close() error { return nil }

func TestVideoSource(t *testing.T) {
	frames := &stubFrames{img: image.NewGray(image.Rect(0, 0, 1, 1))}
	v := &VideoSource{Frames: frames, Duration: 10, FrameRate: 30}

	if v.FrameCount() != 300 {
		t.Errorf("FrameCount() = %d", v.FrameCount())
	}
	if err := v.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := (&VideoSource{}).Close(); err != nil {
		t.Errorf("Close() on empty source error = %v", err)
	}
}

func TestFFmpegProcessor_Integration(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	p := NewFFmpegProcessor("")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	input := filepath.Join(dir, "input.mp4")
	createTestVideo(t, input, 1, 10)

	t.Run("version", func(t *testing.T) {
		v, err := p.Version(ctx)
		if err != nil {
			t.Fatalf("Version() error = %v", err)
		}
		if v == "" {
			t.Error("empty version")
		}
	})

	t.Run("open video", func(t *testing.T) {
		src, err := p.OpenVideo(ctx, input)
		if err != nil {
			t.Fatalf("OpenVideo() error = %v", err)
		}
		defer src.Close()

		if src.Width != 64 || src.Height != 48 {
			t.Errorf("dimensions = %dx%d, want 64x48", src.Width, src.Height)
		}
		if src.FrameRate != 10 {
			t.Errorf("FrameRate = %v, want 10", src.FrameRate)
		}
		if src.Duration < 0.9 || src.Duration > 1.1 {
			t.Errorf("Duration = %v, want ~1", src.Duration)
		}
		if src.HasAudio {
			t.Error("expected no audio")
		}

		img, err := src.Frames.SeekAndDecode(ctx, 0.5)
		if err != nil {
			t.Fatalf("SeekAndDecode() error = %v", err)
		}
		if img.Bounds().Dx() != 64 {
			t.Errorf("frame width = %d", img.Bounds().Dx())
		}

		// Past the end the last decoded frame is repeated.
		if _, err := src.Frames.SeekAndDecode(ctx, 5); err != nil {
			t.Errorf("SeekAndDecode() past end error = %v", err)
		}
	})

	t.Run("corrupt input", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.mp4")
		if err := os.WriteFile(bad, []byte("not a video"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := p.OpenVideo(ctx, bad); err == nil {
			t.Error("expected error for corrupt input")
		}
	})

	t.Run("encode frames", func(t *testing.T) {
		frames := t.TempDir()
		writeFrames(t, frames, 5)
		output := filepath.Join(frames, "output.mp4")

		if err := p.EncodeFrames(ctx, EncodeSpec{Dir: frames, FrameRate: 10, Output: output}); err != nil {
			t.Fatalf("EncodeFrames() error = %v", err)
		}

		info, err := p.Probe(ctx, output)
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if info.Width != 64 || info.Height != 64 {
			t.Errorf("encoded dimensions = %dx%d", info.Width, info.Height)
		}
	})

	t.Run("encode fails without frames", func(t *testing.T) {
		empty := t.TempDir()
		err := p.EncodeFrames(ctx, EncodeSpec{Dir: empty, FrameRate: 10, Output: filepath.Join(empty, "o.mp4")})
		var ffErr *FFmpegError
		if !errors.As(err, &ffErr) {
			t.Errorf("expected FFmpegError, got %v", err)
		}
	})
}
