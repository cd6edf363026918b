// Package server provides the HTTP API for nvcrop exports.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"github.com/maauso/nvcrop/internal/geometry"
	"github.com/maauso/nvcrop/internal/grading"
	"github.com/maauso/nvcrop/internal/render"
	"github.com/maauso/nvcrop/internal/still"
)

// CircleParams is a crop circle in source pixels.
type CircleParams struct {
	X      float64 `json:"x" validate:"gte=0"`
	Y      float64 `json:"y" validate:"gte=0"`
	Radius float64 `json:"radius" validate:"gt=0"`
}

// ExportParams is the JSON "params" part of an export request.
type ExportParams struct {
	// Circle is the crop of the first (or only) source.
	Circle CircleParams `json:"circle" validate:"required"`
	// Rotation is the clockwise rotation of the first source in degrees.
	Rotation int `json:"rotation" validate:"oneof=0 90 180 270"`
	// Circle2 and Rotation2 describe the second source of a dual layout.
	Circle2   *CircleParams `json:"circle2,omitempty" validate:"required_if=Layout dual-vertical,required_if=Layout dual-horizontal"`
	Rotation2 int           `json:"rotation2" validate:"oneof=0 90 180 270"`
	// AspectRatio is "9:16" (default) or "1:1".
	AspectRatio string `json:"aspectRatio" validate:"omitempty,oneof=9:16 1:1"`
	// Layout is "single" (default), "dual-vertical" or "dual-horizontal".
	Layout string `json:"layout" validate:"omitempty,oneof=single dual-vertical dual-horizontal"`
	// EdgeStyle is "hard" (default) or "feathered".
	EdgeStyle string `json:"edgeStyle" validate:"omitempty,oneof=hard feathered"`
	// PhosphorColor tints the feathered edge: "green" (default) or "white".
	PhosphorColor string `json:"phosphorColor" validate:"omitempty,oneof=green white"`
	// ColorGrading is applied to every source before compositing.
	ColorGrading *grading.ColorGrading `json:"colorGrading,omitempty"`
	// Format is the still container: "png" (default) or "jpeg".
	Format string `json:"format" validate:"omitempty,oneof=png jpeg"`
	// PushToS3 uploads a finished video to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// RenderOptions converts the params to compositor options with defaults applied.
func (p ExportParams) RenderOptions() render.Options {
	opts := render.Options{
		Aspect:   geometry.AspectRatio(p.AspectRatio),
		Layout:   geometry.Layout(p.Layout),
		Edge:     render.EdgeStyle(p.EdgeStyle),
		Phosphor: render.Phosphor(p.PhosphorColor),
		Grading:  p.ColorGrading,
	}
	if opts.Aspect == "" {
		opts.Aspect = geometry.AspectStory
	}
	if opts.Layout == "" {
		opts.Layout = geometry.LayoutSingle
	}
	if opts.Edge == "" {
		opts.Edge = render.EdgeHard
	}
	if opts.Phosphor == "" {
		opts.Phosphor = render.PhosphorGreen
	}
	return opts
}

// StillFormat returns the requested container, PNG by default.
func (p ExportParams) StillFormat() still.Format {
	if p.Format == "" {
		return still.FormatPNG
	}
	return still.Format(p.Format)
}

func (c CircleParams) circle() geometry.Circle {
	return geometry.Circle{X: c.X, Y: c.Y, Radius: c.Radius}
}

// CreateExportResponse is the HTTP response after accepting a video export.
type CreateExportResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ExportResponse is the HTTP response for getting video export details.
type ExportResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Message describes the current step.
	Message string `json:"message,omitempty"`
	// Error contains the failure message if the job failed.
	Error string `json:"error,omitempty"`
	// Cancelled is true when the job ended because it was cancelled.
	Cancelled bool `json:"cancelled,omitempty"`
	// FrameCount is the number of frames in the export.
	FrameCount int `json:"frame_count"`
	// HasAudio reports whether the source audio was muxed in.
	HasAudio bool `json:"has_audio"`
	// Filename is the download name once complete.
	Filename string `json:"filename,omitempty"`
	// DownloadURL is the API path of the finished video.
	DownloadURL string `json:"download_url,omitempty"`
	// VideoURL is the S3 URL of the output video (if push_to_s3=true and completed).
	VideoURL string `json:"video_url,omitempty"`
}

// ListExportsResponse is the HTTP response for listing video exports.
type ListExportsResponse struct {
	// Exports are ordered oldest first.
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
	// EncoderReady reports whether the video encoder has been initialized.
	EncoderReady bool `json:"encoder_ready"`
}
