package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/nvcrop/internal/fault"
	"github.com/maauso/nvcrop/internal/geometry"
	"github.com/maauso/nvcrop/internal/job"
	"github.com/maauso/nvcrop/internal/media"
	"github.com/maauso/nvcrop/internal/render"
	"github.com/maauso/nvcrop/internal/still"
	"github.com/maauso/nvcrop/internal/storage"
)

const (
	// DefaultMaxUploadBytes limits request bodies.
	DefaultMaxUploadBytes = 512 << 20
	// multipartMemory is how much of a multipart body is held in memory
	// before spilling to temp files.
	multipartMemory = 32 << 20
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	stills  *still.Exporter
	videos  *job.ExportVideoService
	opener  media.Opener
	uploads storage.Storage

	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	maxUploadBytes     int64
	encoderReady       func() bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, a video export runs to completion before the request
// returns.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMaxUploadBytes limits the size of upload request bodies.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithEncoderStatus reports encoder readiness on the health endpoint.
func WithEncoderStatus(ready func() bool) HandlerOption {
	return func(h *Handlers) {
		h.encoderReady = ready
	}
}

// NewHandlers creates a new Handlers instance. Uploaded videos are staged
// in workspaces created by uploads.
func NewHandlers(
	stills *still.Exporter,
	videos *job.ExportVideoService,
	opener media.Opener,
	uploads storage.Storage,
	logger *slog.Logger,
	opts ...HandlerOption,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		stills:             stills,
		videos:             videos,
		opener:             opener,
		uploads:            uploads,
		validator:          validator.New(validator.WithRequiredStructEnabled()),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
		maxUploadBytes:     DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.encoderReady != nil {
		resp.EncoderReady = h.encoderReady()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportStill handles POST /exports/still requests. The multipart form
// carries "image", an optional "image2" for dual layouts, and "params".
func (h *Handlers) ExportStill(w http.ResponseWriter, r *http.Request) {
	params, ok := h.parseUpload(w, r)
	if !ok {
		return
	}
	defer cleanupForm(r)

	img, header, ok := h.readImage(w, r, "image")
	if !ok {
		return
	}

	opts := params.RenderOptions()
	subjects := []render.Subject{{
		Source:   img,
		Circle:   params.Circle.circle(),
		Rotation: geometry.Rotation(params.Rotation),
	}}
	if opts.Layout.IsDual() {
		img2, _, ok := h.readImage(w, r, "image2")
		if !ok {
			return
		}
		subjects = append(subjects, render.Subject{
			Source:   img2,
			Circle:   params.Circle2.circle(),
			Rotation: geometry.Rotation(params.Rotation2),
		})
	}

	res, err := h.stills.Export(r.Context(), still.Request{
		BaseName: header.Filename,
		Subjects: subjects,
		Options:  opts,
		Format:   params.StillFormat(),
	})
	if err != nil {
		h.writeFault(w, "still export failed", err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", attachment(res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		h.logger.Warn("failed to write still", slog.String("error", err.Error()))
	}
}

// CreateVideoExport handles POST /exports/video requests. The multipart
// form carries "video" and "params". Processing continues in the
// background after the 202 response.
func (h *Handlers) CreateVideoExport(w http.ResponseWriter, r *http.Request) {
	params, ok := h.parseUpload(w, r)
	if !ok {
		return
	}
	defer cleanupForm(r)

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "video file is required", "MISSING_FILE")
		return
	}
	defer file.Close()

	ctx := r.Context()
	ws, err := h.uploads.NewWorkspace(ctx, "upload")
	if err != nil {
		h.writeFault(w, "failed to create upload workspace", err)
		return
	}
	path, err := ws.Stage(ctx, "source"+strings.ToLower(filepath.Ext(header.Filename)), file)
	if err != nil {
		_ = ws.Close()
		h.writeFault(w, "failed to stage upload", err)
		return
	}

	src, err := h.opener.OpenVideo(ctx, path)
	if err != nil {
		_ = ws.Close()
		h.writeFault(w, "failed to open video", fault.Decode("open video", err))
		return
	}

	input := job.VideoInput{
		Source:   src,
		BaseName: header.Filename,
		Circle:   params.Circle.circle(),
		Rotation: geometry.Rotation(params.Rotation),
		Options:  params.RenderOptions(),
		Publish:  params.PushToS3,
	}

	created, err := h.videos.CreateJob(ctx, input)
	if err != nil {
		_ = src.Close()
		_ = ws.Close()
		h.writeFault(w, "failed to create export", err)
		return
	}

	run := func(ctx context.Context) {
		defer func() {
			_ = src.Close()
			if err := ws.Close(); err != nil {
				h.logger.Warn("failed to remove upload", slog.String("error", err.Error()))
			}
		}()
		if _, err := h.videos.Run(ctx, created.ID, input, nil); err != nil {
			h.logger.Error("background export failed",
				slog.String("job_id", created.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Detach from the request so the export outlives it
	if h.enableAsyncProcess {
		go run(context.WithoutCancel(ctx))
	} else {
		run(ctx)
	}

	h.logger.Info("video export accepted",
		slog.String("job_id", created.ID),
		slog.String("source", header.Filename),
		slog.Int("frames", created.FrameCount),
	)

	writeJSON(w, http.StatusAccepted, CreateExportResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetExport handles GET /exports/{id} requests.
func (h *Handlers) GetExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	found, ok := h.findJob(w, r, jobID)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, exportResponse(found))
}

// ListExports handles GET /exports requests.
func (h *Handlers) ListExports(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.videos.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list exports", "JOB_FETCH_FAILED")
		return
	}

	resp := ListExportsResponse{Exports: make([]ExportResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Exports = append(resp.Exports, exportResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

func exportResponse(j *job.Job) ExportResponse {
	resp := ExportResponse{
		ID:         j.ID,
		Status:     string(j.Status),
		Progress:   j.Progress,
		Message:    j.Message,
		Error:      j.Error,
		Cancelled:  j.Cancelled,
		FrameCount: j.FrameCount,
		HasAudio:   j.HasAudio,
	}
	if j.Status == job.StatusComplete {
		resp.Filename = j.Filename
		resp.DownloadURL = "/exports/" + j.ID + "/download"
		resp.VideoURL = j.URL
	}
	return resp
}

// DownloadExport handles GET /exports/{id}/download requests.
func (h *Handlers) DownloadExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	found, ok := h.findJob(w, r, jobID)
	if !ok {
		return
	}

	dl, err := h.videos.Download(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNoDownload) {
			writeError(w, http.StatusConflict, "export is not complete", "NOT_READY")
			return
		}
		h.writeFault(w, "failed to get download", err)
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", attachment(dl.Filename))
	http.ServeContent(w, r, dl.Filename, found.CompletedAt, bytes.NewReader(dl.Data))
}

// CancelExport handles DELETE /exports/{id} requests. A running export is
// cancelled cooperatively; a finished one is discarded.
func (h *Handlers) CancelExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	found, ok := h.findJob(w, r, jobID)
	if !ok {
		return
	}

	if !found.IsTerminal() {
		err := h.videos.Cancel(r.Context(), jobID)
		if err == nil {
			writeJSON(w, http.StatusAccepted, CreateExportResponse{
				ID:     jobID,
				Status: string(job.StatusCancelling),
			})
			return
		}
		if !errors.Is(err, job.ErrJobNotActive) {
			h.writeFault(w, "failed to cancel export", err)
			return
		}
	}

	if err := h.videos.Discard(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
		case errors.Is(err, job.ErrJobNotActive):
			// The run has ended but has not released the job yet
			writeError(w, http.StatusConflict, "export is finishing, retry shortly", "JOB_BUSY")
			return
		default:
			h.writeFault(w, "failed to discard export", err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) findJob(w http.ResponseWriter, r *http.Request, jobID string) (*job.Job, bool) {
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return nil, false
	}

	found, err := h.videos.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "export not found", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get export", "JOB_FETCH_FAILED")
		return nil, false
	}
	return found, true
}

// parseUpload limits and parses a multipart body and decodes its "params" part.
func (h *Handlers) parseUpload(w http.ResponseWriter, r *http.Request) (ExportParams, bool) {
	var params ExportParams

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload is too large", "UPLOAD_TOO_LARGE")
			return params, false
		}
		h.logger.Warn("failed to parse multipart body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return params, false
	}

	raw := r.FormValue("params")
	if raw == "" {
		cleanupForm(r)
		writeError(w, http.StatusBadRequest, "params are required", "MISSING_PARAMS")
		return params, false
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		cleanupForm(r)
		h.logger.Warn("failed to decode params", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid params JSON", "INVALID_PARAMS")
		return params, false
	}

	// Validate request
	if err := h.validator.Struct(params); err != nil {
		cleanupForm(r)
		h.logger.Warn("request validation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return params, false
	}
	return params, true
}

func (h *Handlers) readImage(w http.ResponseWriter, r *http.Request, field string) (image.Image, *multipart.FileHeader, bool) {
	file, header, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, field+" file is required", "MISSING_FILE")
		return nil, nil, false
	}
	defer file.Close()

	img, _, err := still.Decode(file)
	if err != nil {
		h.writeFault(w, "failed to decode "+field, err)
		return nil, nil, false
	}
	return img, header, true
}

// writeFault maps an export fault to a status code and logs it.
func (h *Handlers) writeFault(w http.ResponseWriter, msg string, err error) {
	status, code := http.StatusInternalServerError, "EXPORT_FAILED"
	switch {
	case errors.Is(err, fault.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, fault.ErrDecode):
		status, code = http.StatusUnprocessableEntity, "DECODE_ERROR"
	case errors.Is(err, fault.ErrEncoderInit):
		status, code = http.StatusServiceUnavailable, "ENCODER_UNAVAILABLE"
	case errors.Is(err, fault.ErrEncode):
		code = "ENCODE_FAILED"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("error", err.Error()))
	} else {
		h.logger.Warn(msg, slog.String("error", err.Error()))
	}
	writeError(w, status, fault.Message(err), code)
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
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
