package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/clipforge/internal/job"
	"github.com/maauso/clipforge/internal/job/id"
	"github.com/maauso/clipforge/internal/media"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.ExportService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateExport only creates the job and returns immediately
// without submitting it for export.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.ExportService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateExport handles POST /exports requests.
func (h *Handlers) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req CreateExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, err := h.service.CreateJob(r.Context(), toCreateJobInput(req))
	if err != nil {
		if errors.Is(err, job.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	if h.enableAsyncProcess {
		h.service.Submit(created.ID)
	}

	h.logger.Info("export job created",
		slog.String("job_id", created.ID),
		slog.String("aspect_ratio", req.AspectRatio),
		slog.Int("rotation", req.Rotation),
	)

	writeJSON(w, http.StatusAccepted, CreateExportResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetExport handles GET /exports/{id} requests.
func (h *Handlers) GetExport(w http.ResponseWriter, r *http.Request) {
	found, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toExportResponse(found))
}

// ListExports handles GET /exports requests.
func (h *Handlers) ListExports(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}
	resp := ListExportsResponse{Exports: make([]ExportResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Exports = append(resp.Exports, toExportResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelExport handles DELETE /exports/{id} requests.
func (h *Handlers) CancelExport(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job ID", "INVALID_JOB_ID")
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), jobID)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	case errors.Is(err, job.ErrJobTerminal):
		writeError(w, http.StatusConflict, "job already finished", "JOB_TERMINAL")
		return
	case err != nil:
		h.logger.Error("failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		return
	}

	h.logger.Info("export job cancelled", slog.String("job_id", jobID))
	writeJSON(w, http.StatusOK, toExportResponse(cancelled))
}

// DownloadExport handles GET /exports/{id}/video requests. It streams the
// exported file of a completed job that was not pushed to S3.
func (h *Handlers) DownloadExport(w http.ResponseWriter, r *http.Request) {
	found, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if found.Status != job.StatusCompleted || found.OutputPath == "" {
		writeError(w, http.StatusConflict, "export not completed", "EXPORT_NOT_READY")
		return
	}
	if found.VideoURL != "" {
		http.Redirect(w, r, found.VideoURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, found.OutputPath)
}

// lookup resolves the {id} path value to a job, writing the error response
// when it cannot.
func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return nil, false
	}
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job ID", "INVALID_JOB_ID")
		return nil, false
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return nil, false
	}
	return found, true
}

func toCreateJobInput(req CreateExportRequest) job.CreateJobInput {
	input := job.CreateJobInput{
		SourcePath:   req.SourcePath,
		SourceBase64: req.SourceBase64,
		AspectRatio:  req.AspectRatio,
		Rotation:     req.Rotation,
		OffsetX:      req.OffsetX,
		OffsetY:      req.OffsetY,
		TrimStart:    time.Duration(req.TrimStartMs) * time.Millisecond,
		TrimDuration: time.Duration(req.TrimDurationMs) * time.Millisecond,
		PushToS3:     req.PushToS3,
	}
	for _, m := range req.Metadata {
		input.Metadata = append(input.Metadata, media.MetadataItem{Key: m.Key, Value: m.Value})
	}
	return input
}

func toExportResponse(j *job.Job) ExportResponse {
	resp := ExportResponse{
		ID:                 j.ID,
		Status:             string(j.Status),
		Progress:           j.Progress,
		Error:              j.Error,
		ErrorKind:          j.ErrorKind,
		SkippedAudioTracks: j.SkippedAudioTracks,
		CreatedAt:          j.CreatedAt,
		CompletedAt:        j.CompletedAt,
	}
	if j.Status == job.StatusCompleted {
		if j.VideoURL != "" {
			resp.VideoURL = j.VideoURL
		} else if j.OutputPath != "" {
			resp.DownloadURL = "/exports/" + j.ID + "/video"
		}
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
