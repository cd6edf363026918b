package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envVars lists every variable Load reads.
var envVars = []string{
	"PORT", "MAX_UPLOAD_MB", "ASYNC_PROCESSING", "DOWNLOAD_TTL", "TEMP_DIR", "FFMPEG_PATH", "MAX_VIDEO_SECONDS",
	"SEEK_TIMEOUT", "STAGE_WORKERS", "DEFAULT_FRAME_RATE", "S3_BUCKET",
	"S3_REGION", "S3_ENDPOINT", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	"LOG_FORMAT", "LOG_LEVEL",
}

// clearEnv unsets every variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		if old, ok := os.LookupEnv(name); ok {
			t.Cleanup(func() { _ = os.Setenv(name, old) })
		} else {
			t.Cleanup(func() { _ = os.Unsetenv(name) })
		}
		_ = os.Unsetenv(name)
	}
}

func loadNoDotEnv(t *testing.T) (*Config, error) {
	t.Helper()
	empty := filepath.Join(t.TempDir(), "empty.env")
	require.NoError(t, os.WriteFile(empty, nil, 0600))
	return Load(empty)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadNoDotEnv(t)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 512, cfg.MaxUploadMB)
	assert.Equal(t, "/tmp/nvcrop", cfg.TempDir)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, 60, cfg.MaxVideoSeconds)
	assert.Equal(t, 5*time.Second, cfg.SeekTimeout)
	assert.Equal(t, 4, cfg.StageWorkers)
	assert.Equal(t, 30.0, cfg.DefaultFrameRate)
	assert.True(t, cfg.AsyncProcessing)
	assert.Equal(t, time.Hour, cfg.DownloadTTL)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("MAX_UPLOAD_MB", "64")
	t.Setenv("TEMP_DIR", "/custom/temp")
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("MAX_VIDEO_SECONDS", "30")
	t.Setenv("SEEK_TIMEOUT", "1500ms")
	t.Setenv("STAGE_WORKERS", "8")
	t.Setenv("DEFAULT_FRAME_RATE", "24")
	t.Setenv("ASYNC_PROCESSING", "false")
	t.Setenv("DOWNLOAD_TTL", "15m")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("LOG_LEVEL", "Debug")

	cfg, err := loadNoDotEnv(t)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, int64(64<<20), cfg.MaxUploadBytes())
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, 30*time.Second, cfg.MaxVideoDuration())
	assert.Equal(t, 1500*time.Millisecond, cfg.SeekTimeout)
	assert.Equal(t, 8, cfg.StageWorkers)
	assert.Equal(t, 24.0, cfg.DefaultFrameRate)
	assert.False(t, cfg.AsyncProcessing)
	assert.Equal(t, 15*time.Minute, cfg.DownloadTTL)
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "http://localhost:9000", cfg.S3Endpoint)
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.S3Enabled())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		isCfg bool // rejected by validation rather than parsing
	}{
		{"non-numeric port", "PORT", "not-a-number", false},
		{"bad duration", "SEEK_TIMEOUT", "soon", false},
		{"port out of range", "PORT", "70000", true},
		{"zero workers", "STAGE_WORKERS", "0", true},
		{"clip limit too high", "MAX_VIDEO_SECONDS", "3600", true},
		{"negative frame rate", "DEFAULT_FRAME_RATE", "-1", true},
		{"zero seek timeout", "SEEK_TIMEOUT", "0s", true},
		{"zero download ttl", "DOWNLOAD_TTL", "0s", true},
		{"unknown log format", "LOG_FORMAT", "xml", true},
		{"unknown log level", "LOG_LEVEL", "verbose", true},
		{"bad endpoint", "S3_ENDPOINT", "not a url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := loadNoDotEnv(t)
			require.Error(t, err)
			if tt.isCfg {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Contains(t, err.Error(), tt.key)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "PORT=7000\nSTAGE_WORKERS=2\nLOG_LEVEL=warn\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Variables already set win over the file
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 2, cfg.StageWorkers)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		TempDir:            "/tmp/test",
		FFmpegPath:         "/usr/bin/ffmpeg",
		S3Bucket:           "bucket",
		S3Region:           "region",
		AWSAccessKeyID:     "access-id",
		AWSSecretAccessKey: "secret-key",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "/usr/bin/ffmpeg")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "access-id")
}

func TestConfig_JSONMasksSecrets(t *testing.T) {
	cfg := &Config{AWSAccessKeyID: "access-id", AWSSecretAccessKey: "secret-key"}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "secret-key")
	assert.NotContains(t, string(data), "access-id")
}

func TestConfig_NewLoggerTo_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	var buf bytes.Buffer
	logger := cfg.NewLoggerTo(&buf)
	require.NotNil(t, logger)

	logger.Debug("hidden")
	logger.Info("test message", slog.String("job_id", "job-1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestConfig_NewLoggerTo_Text(t *testing.T) {
	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "debug",
	}

	var buf bytes.Buffer
	logger := cfg.NewLoggerTo(&buf)
	logger.Debug("visible")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := &Config{LogFormat: "text", LogLevel: "info"}
	require.NotNil(t, cfg.NewLogger())
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:             8080,
			MaxUploadMB:      1,
			TempDir:          "/tmp",
			FFmpegPath:       "ffmpeg",
			MaxVideoSeconds:  60,
			SeekTimeout:      time.Second,
			StageWorkers:     1,
			DefaultFrameRate: 30,
			DownloadTTL:      time.Hour,
			LogFormat:        "text",
			LogLevel:         "info",
		}
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing temp dir", func(t *testing.T) {
		cfg := valid()
		cfg.TempDir = ""
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "TEMP_DIR")
	})

	t.Run("reports every failure", func(t *testing.T) {
		cfg := valid()
		cfg.FFmpegPath = ""
		cfg.StageWorkers = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "FFMPEG_PATH")
		assert.Contains(t, err.Error(), "STAGE_WORKERS")
	})
}
