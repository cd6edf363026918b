package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// checkFFmpeg skips test if ffmpeg is not available.
func checkFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createTestVideo writes a short clip, with a sine audio track when
// withAudio is set.
func createTestVideo(t *testing.T, path string, withAudio bool) {
	t.Helper()

	args := []string{"-y", "-f", "lavfi", "-i", "color=c=blue:s=64x64:d=1"}
	if withAudio {
		args = append(args, "-f", "lavfi", "-i", "sine=frequency=440:duration=1", "-c:a", "aac", "-shortest")
	}
	args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p", path)

	if out, err := exec.Command("ffmpeg", args...).CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, out)
	}
}

func TestNewFFmpegDemuxer(t *testing.T) {
	if d := NewFFmpegDemuxer(""); d.ffmpegPath != "ffmpeg" {
		t.Errorf("expected default path 'ffmpeg', got %q", d.ffmpegPath)
	}
	if d := NewFFmpegDemuxer("/opt/ffmpeg"); d.ffmpegPath != "/opt/ffmpeg" {
		t.Errorf("expected custom path, got %q", d.ffmpegPath)
	}
}

func TestExtractArgs(t *testing.T) {
	got := ExtractArgs("in.mp4", "audio.mka")
	want := []string{"-y", "-i", "in.mp4", "-vn", "-map", "0:a:0?", "-acodec", "copy", "audio.mka"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractArgs() = %v, want %v", got, want)
	}
}

func TestIsNoAudio(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"Output file #0 does not contain any stream", true},
		{"Stream map '0:a:0' matches no streams.", true},
		{"Output file is empty, nothing was encoded", true},
		{"Invalid data found when processing input", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsNoAudio(tt.stderr); got != tt.want {
			t.Errorf("IsNoAudio(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

func TestFFmpegDemuxer_Extract(t *testing.T) {
	checkFFmpeg(t)

	dir := t.TempDir()
	d := NewFFmpegDemuxer("")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("copies audio track", func(t *testing.T) {
		input := filepath.Join(dir, "with_audio.mp4")
		output := filepath.Join(dir, "with_audio.mka")
		createTestVideo(t, input, true)

		found, err := d.Extract(ctx, input, output)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if !found {
			t.Fatal("expected audio to be found")
		}
		if info, err := os.Stat(output); err != nil || info.Size() == 0 {
			t.Errorf("output not written: %v", err)
		}
	})

	t.Run("reports missing audio without error", func(t *testing.T) {
		input := filepath.Join(dir, "silent.mp4")
		output := filepath.Join(dir, "silent.mka")
		createTestVideo(t, input, false)

		found, err := d.Extract(ctx, input, output)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if found {
			t.Error("expected no audio")
		}
		if _, err := os.Stat(output); !os.IsNotExist(err) {
			t.Error("output should not exist")
		}
	})

	t.Run("fails on missing input", func(t *testing.T) {
		if _, err := d.Extract(ctx, filepath.Join(dir, "nope.mp4"), filepath.Join(dir, "nope.mka")); err == nil {
			t.Error("expected error for missing input")
		}
	})

	t.Run("fails on corrupt input", func(t *testing.T) {
		input := filepath.Join(dir, "corrupt.mp4")
		if err := os.WriteFile(input, []byte("not a video"), 0600); err != nil {
			t.Fatal(err)
		}
		found, err := d.Extract(ctx, input, filepath.Join(dir, "corrupt.mka"))
		if found {
			t.Error("expected no audio from corrupt input")
		}
		if err == nil {
			t.Error("expected error for corrupt input")
		}
	})
}
