// Package server provides the HTTP API for clipforge exports.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// MetadataEntry is one ordered key/value tag written to the output file.
type MetadataEntry struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// CreateExportRequest is the HTTP request body for creating a new export job.
type CreateExportRequest struct {
	// SourcePath is a video file on the server. Mutually exclusive with SourceBase64.
	SourcePath string `json:"source_path" validate:"required_without=SourceBase64,excluded_with=SourceBase64"`
	// SourceBase64 is an uploaded base64-encoded video.
	SourceBase64 string `json:"source_base64" validate:"omitempty,base64"`
	// AspectRatio is portrait, landscape or square. Empty keeps the source's.
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,oneof=portrait landscape square"`
	// Rotation is the extra clockwise rotation in degrees.
	Rotation int `json:"rotation" validate:"oneof=-270 -180 -90 0 90 180 270"`
	// OffsetX and OffsetY pan the reframed image, each in [-1, 1].
	OffsetX float64 `json:"offset_x" validate:"min=-1,max=1"`
	OffsetY float64 `json:"offset_y" validate:"min=-1,max=1"`
	// TrimStartMs and TrimDurationMs select a part of the source. A zero
	// duration exports the whole source.
	TrimStartMs    int64 `json:"trim_start_ms" validate:"min=0"`
	TrimDurationMs int64 `json:"trim_duration_ms" validate:"min=0"`
	// Metadata is appended after the source's own tags.
	Metadata []MetadataEntry `json:"metadata" validate:"max=64,dive"`
	// PushToS3 indicates whether to upload the finished file to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateExportResponse is the HTTP response after creating an export job.
type CreateExportResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ExportResponse is the HTTP response describing an export job.
type ExportResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	// Error and ErrorKind are set when the job failed.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	// VideoURL is the S3 URL of the output (if push_to_s3=true and completed).
	VideoURL string `json:"video_url,omitempty"`
	// DownloadURL serves the local output file (if push_to_s3=false and completed).
	DownloadURL string `json:"download_url,omitempty"`
	// SkippedAudioTracks lists source audio tracks that could not be read.
	SkippedAudioTracks []int     `json:"skipped_audio_tracks,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	CompletedAt        time.Time `json:"completed_at,omitzero"`
}

// ListExportsResponse is the HTTP response for listing export jobs.
type ListExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
