// Package job tracks clip exports requested through the API: the Job
// aggregate with its status machine, persistence ports and the service
// that runs queued exports.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/clipforge/internal/job/id"
	"github.com/maauso/clipforge/internal/media"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a free export slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the export is in progress.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the output file was written.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the export stopped with an error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by a client.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the export exceeded the configured time limit.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Request holds the export parameters a job was created with.
type Request struct {
	// SourcePath is the local path of the video to export.
	SourcePath string
	// AspectRatio is portrait, landscape or square. Empty derives it from the source.
	AspectRatio string
	// Rotation is a multiple of 90 degrees.
	Rotation int
	// OffsetX and OffsetY pan the frame, each in [-1, 1].
	OffsetX float64
	OffsetY float64
	// TrimStart and TrimDuration select part of the source. A zero
	// TrimDuration exports the whole source.
	TrimStart    time.Duration
	TrimDuration time.Duration
	// Metadata is appended after the source's own tags.
	Metadata []media.MetadataItem
}

// Job represents a clip export job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Request is what the client asked for.
	Request Request
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// ErrorKind classifies Error, e.g. FAILED_TO_CREATE_COMPOSITION.
	ErrorKind string
	// OutputPath is the path to the exported file.
	OutputPath string
	// SkippedAudioTracks lists source audio tracks left out of the output.
	SkippedAudioTracks []int
	// PushToS3 indicates whether to upload the result to S3.
	PushToS3 bool
	// VideoURL is the S3 URL if PushToS3 was true.
	VideoURL string
	// TempFiles are removed once the job reaches a terminal state.
	TempFiles []string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
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
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted:
		j.Progress = 100
		j.CompletedAt = j.UpdatedAt
	case StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 100.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED, recording the error and its kind.
// The error is only recorded if the transition is allowed.
func (j *Job) Fail(kind, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.ErrorKind = kind
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT state.
func (j *Job) Timeout() error {
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage, clamped to 0-100. It
// reports whether the stored value changed. Progress of a terminal job
// is left alone.
func (j *Job) UpdateProgress(progress int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress = max(0, min(100, progress))
	if progress == j.Progress || j.isTerminalLocked() {
		return false
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
	return true
}

// SetOutput records the exported file, skipped audio tracks and optional S3 URL.
func (j *Job) SetOutput(path, videoURL string, skippedAudio []int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
	j.VideoURL = videoURL
	j.SkippedAudioTracks = slices.Clone(skippedAudio)
	j.UpdatedAt = time.Now()
}

// ClearOutput clears the output path and URL.
// This is used when the output file is discarded.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = ""
	j.VideoURL = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.isTerminalLocked()
}

func (j *Job) isTerminalLocked() bool {
	allowed, ok := validTransitions[j.Status]
	return ok && len(allowed) == 0
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	req := j.Request
	req.Metadata = slices.Clone(j.Request.Metadata)

	return &Job{
		ID:                 j.ID,
		Status:             j.Status,
		Request:            req,
		Progress:           j.Progress,
		Error:              j.Error,
		ErrorKind:          j.ErrorKind,
		OutputPath:         j.OutputPath,
		SkippedAudioTracks: slices.Clone(j.SkippedAudioTracks),
		PushToS3:           j.PushToS3,
		VideoURL:           j.VideoURL,
		TempFiles:          slices.Clone(j.TempFiles),
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
	}
}
