package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/nvcrop/internal/audio"
	"github.com/maauso/nvcrop/internal/fault"
	"github.com/maauso/nvcrop/internal/geometry"
	"github.com/maauso/nvcrop/internal/media"
	"github.com/maauso/nvcrop/internal/render"
	"github.com/maauso/nvcrop/internal/still"
	"github.com/maauso/nvcrop/internal/storage"
)

const (
	// DefaultMaxDuration is the longest clip accepted for export.
	DefaultMaxDuration = 60 * time.Second
	// DefaultSeekTimeout bounds a single seek-and-decode.
	DefaultSeekTimeout = 5 * time.Second
	// DefaultStageWorkers is how many frames may be PNG-encoded and staged
	// while the next one is decoded.
	DefaultStageWorkers = 4
	// DefaultDownloadTTL is how long a finished export is kept in memory.
	DefaultDownloadTTL = time.Hour
)

// Workspace file names.
const (
	outputName = "output.mp4"
	audioName  = "audio.mka"
	inputName  = "input"
)

var (
	// ErrJobNotActive is returned when cancelling a job that is not running.
	ErrJobNotActive = errors.New("job is not active")
	// ErrNoDownload is returned when a job has no completed output.
	ErrNoDownload = errors.New("job has no download")

	// errCancelled stops the pipeline when a cancel request is observed.
	errCancelled = errors.New("cancelled")
)

// Progress messages.
const (
	msgPreparing  = "Preparing video..."
	msgExtracting = "Extracting frames..."
	msgEncoding   = "Encoding video..."
	msgFinalizing = "Finalizing..."
	msgComplete   = "Complete!"
)

// ProgressFunc receives progress in percent (0-100) and a step message.
type ProgressFunc func(percent int, message string)

// Capability hands out the shared encoder toolkit.
type Capability interface {
	Acquire(ctx context.Context) (*media.Toolkit, error)
}

// Renderer composites one decoded frame.
type Renderer func(frame image.Image, input VideoInput) (*image.RGBA, error)

// VideoInput contains the data needed to export a video.
type VideoInput struct {
	// Source is an opened video. The caller keeps ownership and closes it.
	Source *media.VideoSource
	// BaseName is the original file name, used for the download name.
	BaseName string
	Circle   geometry.Circle
	Rotation geometry.Rotation
	Options  render.Options
	// Publish uploads the result to S3 when storage supports it.
	Publish bool
}

// Download is a completed export held in memory.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
	// URL is set when the export was published.
	URL string
}

// Output is the outcome of a Run.
type Output struct {
	JobID    string
	Status   Status
	HasAudio bool
	Download *Download
	Error    string
}

// Option configures an ExportVideoService.
type Option func(*ExportVideoService)

// WithMaxDuration sets the long-clip guard.
func WithMaxDuration(d time.Duration) Option {
	return func(s *ExportVideoService) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// WithSeekTimeout sets the per-frame seek timeout.
func WithSeekTimeout(d time.Duration) Option {
	return func(s *ExportVideoService) {
		if d > 0 {
			s.seekTimeout = d
		}
	}
}

// WithStageWorkers sets how many frames are encoded and staged concurrently.
func WithStageWorkers(n int) Option {
	return func(s *ExportVideoService) {
		if n > 0 {
			s.stageWorkers = n
		}
	}
}

// WithDownloadTTL sets how long finished exports are kept before they are
// discarded.
func WithDownloadTTL(d time.Duration) Option {
	return func(s *ExportVideoService) {
		if d > 0 {
			s.downloadTTL = d
		}
	}
}

// WithRenderer replaces the frame compositor.
func WithRenderer(r Renderer) Option {
	return func(s *ExportVideoService) {
		if r != nil {
			s.render = r
		}
	}
}

// ExportVideoService orchestrates video export jobs: it turns each frame of
// a clip into a circular crop and encodes the result to MP4.
type ExportVideoService struct {
	repo    Repository
	engine  Capability
	storage storage.Storage
	logger  *slog.Logger

	render       Renderer
	maxDuration  time.Duration
	seekTimeout  time.Duration
	stageWorkers int
	downloadTTL  time.Duration
	now          func() time.Time

	mu        sync.Mutex
	active    map[string]*Job
	downloads map[string]*storedDownload
}

// storedDownload is a finished export and the time it is discarded.
type storedDownload struct {
	*Download
	expires time.Time
}

// NewExportVideoService creates a new ExportVideoService with the given dependencies.
func NewExportVideoService(
	repo Repository,
	engine Capability,
	store storage.Storage,
	logger *slog.Logger,
	opts ...Option,
) *ExportVideoService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ExportVideoService{
		repo:         repo,
		engine:       engine,
		storage:      store,
		logger:       logger,
		render:       compositeFrame,
		maxDuration:  DefaultMaxDuration,
		seekTimeout:  DefaultSeekTimeout,
		stageWorkers: DefaultStageWorkers,
		downloadTTL:  DefaultDownloadTTL,
		now:          time.Now,
		active:       make(map[string]*Job),
		downloads:    make(map[string]*storedDownload),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func compositeFrame(frame image.Image, in VideoInput) (*image.RGBA, error) {
	return render.Composite([]render.Subject{{
		Source:   frame,
		Circle:   in.Circle,
		Rotation: in.Rotation,
	}}, in.Options)
}

// VideoFilename returns "{base}-nvcrop.mp4".
func VideoFilename(name string) string {
	return still.BaseName(name) + still.Suffix + ".mp4"
}

// Validate checks the input against the source and the long-clip guard.
func (s *ExportVideoService) Validate(in VideoInput) error {
	src := in.Source
	if src == nil || src.Frames == nil {
		return fault.Validation("video source is missing")
	}
	if limit := s.maxDuration.Seconds(); src.Duration > limit {
		return fault.Validation("video is %.1fs long; the maximum is %.0fs", src.Duration, limit)
	}
	if src.Duration <= 0 || src.FrameRate <= 0 {
		return fault.Validation("video has no frames")
	}
	if err := in.Options.Validate(); err != nil {
		return err
	}
	if in.Options.Layout.IsDual() {
		return fault.Validation("video export supports the single layout only")
	}
	return render.ValidateSubject(in.Circle, in.Rotation, src.Width, src.Height)
}

// CreateJob validates the input and creates an IDLE job.
func (s *ExportVideoService) CreateJob(ctx context.Context, in VideoInput) (*Job, error) {
	if err := s.Validate(in); err != nil {
		return nil, err
	}

	job := New()
	job.SourceName = in.BaseName
	job.FrameRate = in.Source.FrameRate
	job.FrameCount = in.Source.FrameCount()
	job.Publish = in.Publish

	if err := s.repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.mu.Lock()
	s.active[job.ID] = job
	s.mu.Unlock()

	s.logger.Info("job created",
		slog.String("job_id", job.ID),
		slog.String("source", in.BaseName),
		slog.Int("frames", job.FrameCount),
		slog.Float64("fps", job.FrameRate),
	)
	return job.Clone(), nil
}

// Export creates a job and runs it to completion.
func (s *ExportVideoService) Export(ctx context.Context, in VideoInput, onProgress ProgressFunc) (*Output, error) {
	job, err := s.CreateJob(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, job.ID, in, onProgress)
}

// Run drives a created job through the pipeline. A cancelled run returns
// an IDLE output and a nil error. A failed run returns a FAILED output and
// the fault that caused it.
func (s *ExportVideoService) Run(ctx context.Context, jobID string, in VideoInput, onProgress ProgressFunc) (*Output, error) {
	job, err := s.live(jobID)
	if err != nil {
		return nil, err
	}
	defer s.release(jobID)

	p := &pipeline{
		svc:      s,
		job:      job,
		in:       in,
		progress: onProgress,
		logger:   s.logger.With(slog.String("job_id", jobID)),
	}
	return p.run(ctx)
}

// Cancel requests cooperative cancellation of a running job.
func (s *ExportVideoService) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	job, ok := s.active[jobID]
	s.mu.Unlock()

	if !ok {
		if _, err := s.repo.FindByID(ctx, jobID); err != nil {
			return err
		}
		return ErrJobNotActive
	}
	if !job.RequestCancel() {
		return ErrJobNotActive
	}
	s.logger.Info("cancel requested", slog.String("job_id", jobID))
	return nil
}

// GetJob retrieves a job by ID. Running jobs report live progress.
func (s *ExportVideoService) GetJob(ctx context.Context, jobID string) (*Job, error) {
	s.evictExpired(ctx)

	s.mu.Lock()
	job, ok := s.active[jobID]
	s.mu.Unlock()
	if ok {
		return job.Clone(), nil
	}
	return s.repo.FindByID(ctx, jobID)
}

// Download returns the output of a completed job.
func (s *ExportVideoService) Download(ctx context.Context, jobID string) (*Download, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	dl, ok := s.downloads[jobID]
	s.mu.Unlock()
	if job.Status != StatusComplete || !ok {
		return nil, ErrNoDownload
	}
	return dl.Download, nil
}

// ListJobs returns every known job, oldest first. Running jobs report live
// progress.
func (s *ExportVideoService) ListJobs(ctx context.Context) ([]*Job, error) {
	s.evictExpired(ctx)

	jobs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range jobs {
		if live, ok := s.active[j.ID]; ok {
			jobs[i] = live.Clone()
		}
	}
	return jobs, nil
}

// evictExpired discards finished exports whose download has outlived the
// TTL, job included.
func (s *ExportVideoService) evictExpired(ctx context.Context) {
	now := s.now()

	var expired []string
	s.mu.Lock()
	for id, dl := range s.downloads {
		if !now.Before(dl.expires) {
			expired = append(expired, id)
			delete(s.downloads, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, ErrJobNotFound) {
			s.logger.Warn("failed to drop expired job",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("expired export discarded", slog.String("job_id", id))
	}
}

// Discard forgets a finished job and its download.
func (s *ExportVideoService) Discard(ctx context.Context, jobID string) error {
	s.mu.Lock()
	_, running := s.active[jobID]
	s.mu.Unlock()
	if running {
		return s.Cancel(ctx, jobID)
	}

	if err := s.repo.Delete(ctx, jobID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.downloads, jobID)
	s.mu.Unlock()
	return nil
}

func (s *ExportVideoService) live(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.active[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *ExportVideoService) release(jobID string) {
	s.mu.Lock()
	delete(s.active, jobID)
	s.mu.Unlock()
}

// pipeline is one run of one job.
type pipeline struct {
	svc      *ExportVideoService
	job      *Job
	in       VideoInput
	progress ProgressFunc
	logger   *slog.Logger
}

func (p *pipeline) report(percent int, message string) {
	percent = p.job.UpdateProgress(percent, message)
	if p.progress != nil {
		p.progress(percent, message)
	}
}

func (p *pipeline) save(ctx context.Context) {
	if err := p.svc.repo.Save(context.WithoutCancel(ctx), p.job); err != nil {
		p.logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

func (p *pipeline) advance(ctx context.Context, status Status, percent int, message string) error {
	if err := p.job.TransitionTo(status); err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	p.save(ctx)
	p.report(percent, message)
	return nil
}

func (p *pipeline) run(ctx context.Context) (*Output, error) {
	if p.job.CancelRequested() {
		return p.cancelled(ctx)
	}
	if err := p.job.Start(); err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	p.save(ctx)
	p.report(0, msgPreparing)
	p.logger.Info("export started")

	tk, ws, err := p.prepare(ctx)
	if err != nil {
		return p.fail(ctx, err)
	}
	cleanup := sync.OnceFunc(func() {
		if err := ws.Close(); err != nil {
			p.logger.Warn("failed to clean up workspace",
				slog.String("dir", ws.Dir()),
				slog.String("error", err.Error()),
			)
		}
	})
	defer cleanup()

	dl, err := p.process(ctx, tk, ws)
	if errors.Is(err, errCancelled) {
		return p.cancelled(ctx)
	}
	if err != nil {
		return p.fail(ctx, err)
	}

	cleanup()
	if p.job.CancelRequested() {
		return p.cancelled(ctx)
	}

	p.svc.evictExpired(context.WithoutCancel(ctx))
	p.svc.mu.Lock()
	p.svc.downloads[p.job.ID] = &storedDownload{
		Download: dl,
		expires:  p.svc.now().Add(p.svc.downloadTTL),
	}
	p.svc.mu.Unlock()

	if err := p.job.Complete(dl.Filename, dl.URL); err != nil {
		return p.fail(ctx, err)
	}
	p.save(ctx)
	p.report(100, msgComplete)

	snap := p.job.Clone()
	p.logger.Info("export complete",
		slog.String("filename", dl.Filename),
		slog.Int("bytes", len(dl.Data)),
		slog.Bool("has_audio", snap.HasAudio),
		slog.Duration("took", snap.CompletedAt.Sub(snap.StartedAt)),
	)
	return &Output{
		JobID:    p.job.ID,
		Status:   StatusComplete,
		HasAudio: snap.HasAudio,
		Download: dl,
	}, nil
}

// prepare acquires the encoder and stages a copy of the input video.
func (p *pipeline) prepare(ctx context.Context) (*media.Toolkit, *storage.Workspace, error) {
	tk, err := p.svc.engine.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	ws, err := p.svc.storage.NewWorkspace(ctx, p.job.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("create workspace: %w", err)
	}
	if p.in.Source.Path == "" {
		return tk, ws, nil
	}

	f, err := os.Open(p.in.Source.Path)
	if err != nil {
		_ = ws.Close()
		return nil, nil, fault.Decode("open input", err)
	}
	defer f.Close()

	if _, err := ws.Stage(ctx, p.inputName(), f); err != nil {
		_ = ws.Close()
		return nil, nil, fmt.Errorf("stage input: %w", err)
	}
	return tk, ws, nil
}

func (p *pipeline) inputName() string {
	return inputName + strings.ToLower(filepath.Ext(p.in.Source.Path))
}

// process runs extraction, encoding and the read-back of the output.
func (p *pipeline) process(ctx context.Context, tk *media.Toolkit, ws *storage.Workspace) (*Download, error) {
	if p.job.CancelRequested() {
		return nil, errCancelled
	}
	if err := p.advance(ctx, StatusExtractingFrames, 5, msgExtracting); err != nil {
		return nil, err
	}
	if err := p.extractFrames(ctx, ws); err != nil {
		return nil, err
	}

	if p.job.CancelRequested() {
		return nil, errCancelled
	}
	if err := p.advance(ctx, StatusEncoding, 50, msgEncoding); err != nil {
		return nil, err
	}

	audioPath := p.probeAudio(ctx, tk.Audio, ws)
	p.job.SetHasAudio(audioPath != "")
	p.save(ctx)
	p.report(55, msgEncoding)

	spec := media.EncodeSpec{
		Dir:       ws.Dir(),
		FrameRate: p.job.FrameRate,
		AudioPath: audioPath,
		Output:    ws.Path(outputName),
	}
	if audioPath != "" {
		spec.AudioCodec = p.in.Source.AudioCodec
		if !media.CanCopyAudio(spec.AudioCodec) {
			p.logger.Info("audio codec not supported in mp4, re-encoding",
				slog.String("codec", spec.AudioCodec),
				slog.String("target", media.AudioFallbackCodec),
			)
		}
	}
	start := time.Now()
	if err := tk.Encoder.EncodeFrames(ctx, spec); err != nil {
		return nil, fault.Encode("encode video", err)
	}
	p.logger.Info("video encoded", slog.Duration("took", time.Since(start)))

	// The encoder cannot be interrupted, so a cancel during encoding only
	// suppresses the result.
	if p.job.CancelRequested() {
		return nil, errCancelled
	}
	if err := p.advance(ctx, StatusFinalizing, 90, msgFinalizing); err != nil {
		return nil, err
	}

	data, err := ws.Read(ctx, outputName)
	if err != nil {
		return nil, fault.Encode("read output", err)
	}

	dl := &Download{
		Filename:    VideoFilename(p.in.BaseName),
		ContentType: "video/mp4",
		Data:        data,
	}
	if p.in.Publish {
		dl.URL = p.publish(ctx, dl)
	}
	return dl, nil
}

// extractFrames decodes, composites and stages every frame in order. The
// seek cursor is only touched by this goroutine; PNG encoding and staging
// run on a bounded errgroup.
func (p *pipeline) extractFrames(ctx context.Context, ws *storage.Workspace) error {
	n := p.job.FrameCount
	fps := p.job.FrameRate

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.svc.stageWorkers)

	var loopErr error
	for i := 0; i < n; i++ {
		if p.job.CancelRequested() {
			loopErr = errCancelled
			break
		}
		if gctx.Err() != nil {
			break
		}

		frame, err := p.seek(gctx, float64(i)/fps)
		if err != nil {
			loopErr = err
			break
		}
		out, err := p.svc.render(frame, p.in)
		if err != nil {
			loopErr = fmt.Errorf("render frame %d: %w", i, err)
			break
		}

		name := media.FrameName(i)
		g.Go(func() error {
			var buf bytes.Buffer
			if err := still.FrameEncoder(&buf, out); err != nil {
				return fault.Encode("encode frame "+name, err)
			}
			if _, err := ws.Stage(gctx, name, &buf); err != nil {
				return fmt.Errorf("stage frame %s: %w", name, err)
			}
			return nil
		})

		p.report(5+40*(i+1)/n, fmt.Sprintf("Processing frame %d/%d...", i+1, n))
	}

	if err := g.Wait(); err != nil && !errors.Is(loopErr, errCancelled) {
		return err
	}
	if loopErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return loopErr
}

// seek decodes the frame at t under the seek timeout.
func (p *pipeline) seek(ctx context.Context, t float64) (image.Image, error) {
	seekCtx, cancel := context.WithTimeout(ctx, p.svc.seekTimeout)
	defer cancel()

	frame, err := p.in.Source.Frames.SeekAndDecode(seekCtx, t)
	if err == nil {
		return frame, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || seekCtx.Err() != nil {
		return nil, fault.Decode(fmt.Sprintf("seek to %.3fs timed out after %s", t, p.svc.seekTimeout), context.DeadlineExceeded)
	}
	return nil, fault.Decode(fmt.Sprintf("decode frame at %.3fs", t), err)
}

// probeAudio stream-copies the audio track into the workspace and returns
// its path, or "" when the input has none. Probe errors are not fatal.
func (p *pipeline) probeAudio(ctx context.Context, demux audio.Demuxer, ws *storage.Workspace) string {
	if demux == nil || p.in.Source.Path == "" {
		return ""
	}
	input := ws.Path(p.inputName())
	output := ws.Path(audioName)

	found, err := demux.Extract(ctx, input, output)
	if err != nil {
		p.logger.Warn("audio probe failed, encoding without audio", slog.String("error", err.Error()))
		return ""
	}
	if !found {
		p.logger.Info("no audio track")
		return ""
	}
	return output
}

func (p *pipeline) publish(ctx context.Context, dl *Download) string {
	key := p.job.ID + "/" + dl.Filename
	url, err := p.svc.storage.Publish(ctx, key, dl.ContentType, bytes.NewReader(dl.Data))
	if err != nil {
		p.logger.Warn("failed to publish export", slog.String("key", key), slog.String("error", err.Error()))
		return ""
	}
	p.logger.Info("export published", slog.String("url", url))
	return url
}

// fail moves the job to FAILED. Failures observed after a cancel request,
// or caused by the caller's context ending, end the job as cancelled.
func (p *pipeline) fail(ctx context.Context, err error) (*Output, error) {
	if ctx.Err() != nil {
		p.job.RequestCancel()
	}
	if p.job.CancelRequested() {
		return p.cancelled(ctx)
	}

	msg := fault.Message(err)
	if ferr := p.job.Fail(msg); ferr != nil {
		p.logger.Error("failed to mark job as failed", slog.String("error", ferr.Error()))
	}
	p.save(ctx)
	p.logger.Error("export failed", slog.String("error", err.Error()))

	return &Output{
		JobID:    p.job.ID,
		Status:   StatusFailed,
		HasAudio: p.job.Clone().HasAudio,
		Error:    msg,
	}, err
}

func (p *pipeline) cancelled(ctx context.Context) (*Output, error) {
	if err := p.job.FinishCancel(); err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	p.save(ctx)
	p.logger.Info("export cancelled")
	return &Output{JobID: p.job.ID, Status: StatusIdle}, nil
}
