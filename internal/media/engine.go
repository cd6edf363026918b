package media

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/maauso/nvcrop/internal/audio"
	"github.com/maauso/nvcrop/internal/fault"
)

// initTimeout bounds one initialization attempt. The attempt is shared by
// every waiting caller, so it does not inherit any caller's context.
const initTimeout = 30 * time.Second

// Toolkit is the initialized encoder capability shared by every job.
type Toolkit struct {
	Version string
	Encoder Encoder
	Audio   audio.Demuxer
}

// Engine lazily initializes the Toolkit once per process. Concurrent callers
// during initialization share a single attempt. A failed attempt is not
// remembered, so the next call tries again.
type Engine struct {
	logger     *slog.Logger
	initialize func(ctx context.Context) (*Toolkit, error)

	group singleflight.Group

	mu      sync.RWMutex
	toolkit *Toolkit
}

// NewEngine creates an Engine that verifies ffmpeg and ffprobe are runnable
// before handing out processor as the encoder.
func NewEngine(processor *FFmpegProcessor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger}
	e.initialize = func(ctx context.Context) (*Toolkit, error) {
		return initToolkit(ctx, processor)
	}
	return e
}

func initToolkit(ctx context.Context, p *FFmpegProcessor) (*Toolkit, error) {
	if _, err := exec.LookPath(p.Path()); err != nil {
		return nil, fmt.Errorf("locate ffmpeg: %w", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, fmt.Errorf("locate ffprobe: %w", err)
	}
	version, err := p.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("run ffmpeg: %w", err)
	}
	return &Toolkit{
		Version: version,
		Encoder: p,
		Audio:   audio.NewFFmpegDemuxer(p.Path()),
	}, nil
}

// Acquire returns the shared Toolkit, initializing it on first use.
// Initialization failures are returned as fault.ErrEncoderInit.
func (e *Engine) Acquire(ctx context.Context) (*Toolkit, error) {
	if tk := e.loaded(); tk != nil {
		return tk, nil
	}

	ch := e.group.DoChan("init", func() (any, error) {
		if tk := e.loaded(); tk != nil {
			return tk, nil
		}

		start := time.Now()
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
		defer cancel()

		tk, err := e.initialize(initCtx)
		if err != nil {
			e.logger.Error("encoder initialization failed", slog.String("error", err.Error()))
			return nil, fault.EncoderInit(err)
		}

		e.mu.Lock()
		e.toolkit = tk
		e.mu.Unlock()

		e.logger.Info("encoder initialized",
			slog.String("version", tk.Version),
			slog.Duration("took", time.Since(start)),
		)
		return tk, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Toolkit), nil
	}
}

// Ready reports whether the Toolkit has been initialized.
func (e *Engine) Ready() bool {
	return e.loaded() != nil
}

func (e *Engine) loaded() *Toolkit {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.toolkit
}
