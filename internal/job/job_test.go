package job

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maauso/clipforge/internal/media"
)

func TestNew(t *testing.T) {
	job := New()

	if !strings.HasPrefix(job.ID, "exp-") {
		t.Errorf("expected generated export ID, got %q", job.ID)
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if job.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestNewWithID(t *testing.T) {
	id := "test-job-123"
	job := NewWithID(id)

	if job.ID != id {
		t.Errorf("expected ID %s, got %s", id, job.ID)
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"IN_QUEUE to RUNNING", StatusInQueue, StatusRunning, false},
		{"IN_QUEUE to CANCELLED", StatusInQueue, StatusCancelled, false},
		{"IN_QUEUE to TIMED_OUT", StatusInQueue, StatusTimedOut, false},
		{"RUNNING to COMPLETED", StatusRunning, StatusCompleted, false},
		{"RUNNING to FAILED", StatusRunning, StatusFailed, false},
		{"RUNNING to CANCELLED", StatusRunning, StatusCancelled, false},
		{"RUNNING to TIMED_OUT", StatusRunning, StatusTimedOut, false},
		{"IN_QUEUE to COMPLETED", StatusInQueue, StatusCompleted, true},
		{"IN_QUEUE to FAILED", StatusInQueue, StatusFailed, true},
		{"COMPLETED to RUNNING", StatusCompleted, StatusRunning, true},
		{"FAILED to COMPLETED", StatusFailed, StatusCompleted, true},
		{"CANCELLED to RUNNING", StatusCancelled, StatusRunning, true},
		{"CANCELLED to CANCELLED", StatusCancelled, StatusCancelled, true},
		{"TIMED_OUT to RUNNING", StatusTimedOut, StatusRunning, true},
		{"unknown status", Status("BOGUS"), StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition for %s -> %s, got %v", tt.from, tt.to, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_Start(t *testing.T) {
	job := New()
	beforeStart := time.Now()

	if err := job.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, job.Status)
	}
	if job.StartedAt.Before(beforeStart) {
		t.Error("expected StartedAt to be set after test start")
	}
}

func TestJob_Complete(t *testing.T) {
	job := New()
	_ = job.Start()
	job.UpdateProgress(87)

	if err := job.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("expected progress 100 on completion, got %d", job.Progress)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_Fail(t *testing.T) {
	job := New()
	_ = job.Start()

	if err := job.Fail("EXPORT_FAILED", "encoder crashed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, job.Status)
	}
	if job.Error != "encoder crashed" {
		t.Errorf("expected error message, got %q", job.Error)
	}
	if job.ErrorKind != "EXPORT_FAILED" {
		t.Errorf("expected error kind EXPORT_FAILED, got %q", job.ErrorKind)
	}
}

func TestJob_FailFromTerminalKeepsError(t *testing.T) {
	job := New()
	_ = job.Cancel()

	if err := job.Fail("EXPORT_FAILED", "late failure"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Error != "" || job.ErrorKind != "" {
		t.Errorf("error fields should be untouched, got %q/%q", job.ErrorKind, job.Error)
	}
}

func TestJob_CancelAndTimeout(t *testing.T) {
	cancelled := New()
	if err := cancelled.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CompletedAt.IsZero() {
		t.Errorf("expected cancelled job with CompletedAt, got %s", cancelled.Status)
	}

	timedOut := New()
	_ = timedOut.Start()
	if err := timedOut.Timeout(); err != nil {
		t.Fatalf("Timeout() error = %v", err)
	}
	if timedOut.Status != StatusTimedOut {
		t.Errorf("expected status %s, got %s", StatusTimedOut, timedOut.Status)
	}
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusInQueue, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{StatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.status
			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestJob_UpdateProgress(t *testing.T) {
	job := New()
	_ = job.Start()

	tests := []struct {
		input   int
		want    int
		changed bool
	}{
		{50, 50, true},
		{50, 50, false},
		{-10, 0, true},
		{150, 100, true},
	}

	for _, tt := range tests {
		changed := job.UpdateProgress(tt.input)
		if job.Progress != tt.want {
			t.Errorf("UpdateProgress(%d): progress = %d, want %d", tt.input, job.Progress, tt.want)
		}
		if changed != tt.changed {
			t.Errorf("UpdateProgress(%d): changed = %v, want %v", tt.input, changed, tt.changed)
		}
	}

	_ = job.Cancel()
	if job.UpdateProgress(10) {
		t.Error("progress of a terminal job should not change")
	}
}

func TestJob_SetOutput(t *testing.T) {
	job := New()
	skipped := []int{2}
	job.SetOutput("/tmp/clip.mp4", "https://s3.example.com/clip.mp4", skipped)
	skipped[0] = 9

	if job.OutputPath != "/tmp/clip.mp4" {
		t.Errorf("expected OutputPath /tmp/clip.mp4, got %s", job.OutputPath)
	}
	if job.VideoURL != "https://s3.example.com/clip.mp4" {
		t.Errorf("expected VideoURL, got %s", job.VideoURL)
	}
	if len(job.SkippedAudioTracks) != 1 || job.SkippedAudioTracks[0] != 2 {
		t.Errorf("expected skipped tracks [2], got %v", job.SkippedAudioTracks)
	}

	job.ClearOutput()
	if job.OutputPath != "" || job.VideoURL != "" {
		t.Error("expected output to be cleared")
	}
}

func TestJob_Clone(t *testing.T) {
	job := New()
	job.Status = StatusRunning
	job.Progress = 50
	job.Request = Request{
		SourcePath: "/media/in.mov",
		Metadata:   []media.MetadataItem{{Key: "title", Value: "Beach"}},
	}
	job.TempFiles = []string{"/tmp/upload"}

	clone := job.Clone()

	if clone.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, clone.ID)
	}
	if clone.Status != job.Status {
		t.Errorf("expected Status %s, got %s", job.Status, clone.Status)
	}
	if clone.Progress != job.Progress {
		t.Errorf("expected Progress %d, got %d", job.Progress, clone.Progress)
	}
	if clone.Request.SourcePath != job.Request.SourcePath {
		t.Errorf("expected SourcePath %s, got %s", job.Request.SourcePath, clone.Request.SourcePath)
	}

	clone.Status = StatusCompleted
	clone.Request.Metadata[0].Value = "changed"
	clone.TempFiles[0] = "changed"
	if job.Status == StatusCompleted {
		t.Error("modifying clone should not affect original")
	}
	if job.Request.Metadata[0].Value != "Beach" {
		t.Error("modifying clone metadata should not affect original")
	}
	if job.TempFiles[0] != "/tmp/upload" {
		t.Error("modifying clone temp files should not affect original")
	}
}

func TestJob_GetStatus_ThreadSafe(t *testing.T) {
	job := New()

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			_ = job.GetStatus()
			_ = job.Clone()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = job.Start()
			job.UpdateProgress(i)
		}
		done <- true
	}()

	<-done
	<-done
}
