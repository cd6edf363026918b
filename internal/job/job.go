// Package job provides the Job aggregate for video export jobs, the
// repository port used to persist it, and the ExportVideoService that drives
// a job through extraction, encoding and finalization.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/nvcrop/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusIdle is the state before a run and after a cancelled run.
	StatusIdle Status = "IDLE"
	// StatusPreparing indicates the encoder is being acquired and input staged.
	StatusPreparing Status = "PREPARING"
	// StatusExtractingFrames indicates frames are being decoded, composited and staged.
	StatusExtractingFrames Status = "EXTRACTING_FRAMES"
	// StatusEncoding indicates the staged frames are being encoded.
	StatusEncoding Status = "ENCODING"
	// StatusFinalizing indicates the output is being read back and intermediates removed.
	StatusFinalizing Status = "FINALIZING"
	// StatusComplete indicates the export is ready for download.
	StatusComplete Status = "COMPLETE"
	// StatusFailed indicates the job aborted with an error.
	StatusFailed Status = "FAILED"
	// StatusCancelling indicates a cancel was observed and the job is winding down.
	StatusCancelling Status = "CANCELLING"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusIdle:             {StatusPreparing, StatusCancelling},
	StatusPreparing:        {StatusExtractingFrames, StatusFailed, StatusCancelling},
	StatusExtractingFrames: {StatusEncoding, StatusFailed, StatusCancelling},
	StatusEncoding:         {StatusFinalizing, StatusFailed, StatusCancelling},
	StatusFinalizing:       {StatusComplete, StatusFailed, StatusCancelling},
	StatusCancelling:       {StatusIdle},
	StatusComplete:         {},
	StatusFailed:           {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job is a single video export.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100). It never decreases.
	Progress int
	// Message describes the current step.
	Message string
	// Error contains the user-facing failure message if the job failed.
	Error string
	// SourceName is the original file name of the input video.
	SourceName string
	// Filename is the suggested download name once complete.
	Filename string
	// FrameRate is the rate frames are sampled and encoded at.
	FrameRate float64
	// FrameCount is the number of frames the job will produce.
	FrameCount int
	// HasAudio is set once the audio probe has run.
	HasAudio bool
	// Publish indicates whether to upload the result to S3.
	Publish bool
	// URL is the S3 URL if the export was published.
	URL string
	// Cancelled is set when a run ended because of a cancel request.
	Cancelled bool
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time

	cancelRequested bool
}

// New creates a new Job with a generated ID in IDLE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID in IDLE status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusPreparing:
		j.StartedAt = j.UpdatedAt
	case StatusComplete, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IDLE to PREPARING.
// A job whose previous run was cancelled cannot be started again.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Cancelled {
		return ErrInvalidTransition
	}
	return j.transitionLocked(StatusPreparing)
}

// Complete transitions the job to COMPLETE with the download name and
// optional published URL.
func (j *Job) Complete(filename, url string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusComplete); err != nil {
		return err
	}
	j.Filename = filename
	j.URL = url
	return nil
}

// Fail transitions the job to FAILED state with an error message.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// RequestCancel marks the job for cooperative cancellation. The running
// pipeline observes the flag between steps. Returns false if the job is
// already terminal.
func (j *Job) RequestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isTerminalLocked() {
		return false
	}
	j.cancelRequested = true
	j.UpdatedAt = time.Now()
	return true
}

// CancelRequested reports whether RequestCancel has been called.
func (j *Job) CancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

// FinishCancel moves the job through CANCELLING back to IDLE and marks it
// cancelled. No output is kept.
func (j *Job) FinishCancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCancelling); err != nil {
		return err
	}
	if err := j.transitionLocked(StatusIdle); err != nil {
		return err
	}
	j.Cancelled = true
	j.Filename = ""
	j.URL = ""
	j.Message = ""
	j.CompletedAt = j.UpdatedAt
	return nil
}

// UpdateProgress records progress and the current step message. Progress
// is clamped to [0,100] and never decreases. It returns the stored value.
func (j *Job) UpdateProgress(progress int, message string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress = max(0, min(100, progress))
	if progress < j.Progress {
		progress = j.Progress
	}
	j.Progress = progress
	j.Message = message
	j.UpdatedAt = time.Now()
	return progress
}

// SetHasAudio records the outcome of the audio probe.
func (j *Job) SetHasAudio(hasAudio bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.HasAudio = hasAudio
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job can no longer change: complete,
// failed, or back at IDLE after a cancel.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.isTerminalLocked()
}

func (j *Job) isTerminalLocked() bool {
	return j.Status == StatusComplete ||
		j.Status == StatusFailed ||
		(j.Status == StatusIdle && j.Cancelled)
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:              j.ID,
		Status:          j.Status,
		Progress:        j.Progress,
		Message:         j.Message,
		Error:           j.Error,
		SourceName:      j.SourceName,
		Filename:        j.Filename,
		FrameRate:       j.FrameRate,
		FrameCount:      j.FrameCount,
		HasAudio:        j.HasAudio,
		Publish:         j.Publish,
		URL:             j.URL,
		Cancelled:       j.Cancelled,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		cancelRequested: j.cancelRequested,
	}
}
