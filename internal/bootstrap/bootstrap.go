// Package bootstrap provides dependency initialization for the nvcrop server.
package bootstrap

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maauso/nvcrop/internal/config"
	"github.com/maauso/nvcrop/internal/job"
	"github.com/maauso/nvcrop/internal/media"
	"github.com/maauso/nvcrop/internal/still"
	"github.com/maauso/nvcrop/internal/storage"
)

// uploadsDir holds request uploads under the temp directory.
const uploadsDir = "uploads"

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Stills    *still.Exporter
	Videos    *job.ExportVideoService
	Processor *media.FFmpegProcessor
	Engine    *media.Engine
	// Storage holds job workspaces and publishes finished exports.
	Storage storage.Storage
	// Uploads holds request bodies until their export has run.
	Uploads storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
// The encoder is not started here; it initializes on first use.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	uploads, err := storage.NewLocalStorage(filepath.Join(cfg.TempDir, uploadsDir))
	if err != nil {
		return nil, fmt.Errorf("create upload storage: %w", err)
	}
	logger.Debug("upload storage configured", slog.String("root", uploads.Root()))

	// Initialize media processor and the shared encoder capability
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath,
		media.WithDefaultFrameRate(cfg.DefaultFrameRate),
	)
	engine := media.NewEngine(processor, logger)

	// Initialize job repository
	repo := job.NewMemoryRepository()

	videos := job.NewExportVideoService(
		repo,
		engine,
		store,
		logger,
		job.WithMaxDuration(cfg.MaxVideoDuration()),
		job.WithSeekTimeout(cfg.SeekTimeout),
		job.WithStageWorkers(cfg.StageWorkers),
		job.WithDownloadTTL(cfg.DownloadTTL),
	)

	return &Dependencies{
		Stills:    still.NewExporter(logger),
		Videos:    videos,
		Processor: processor,
		Engine:    engine,
		Storage:   store,
		Uploads:   uploads,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("root", localStore.Root()),
	)
	return localStore, nil
}
