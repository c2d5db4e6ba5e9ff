package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amanullahtanweer/segscribe/internal/assemble"
	"github.com/amanullahtanweer/segscribe/internal/engine"
	"github.com/amanullahtanweer/segscribe/internal/media"
	"github.com/amanullahtanweer/segscribe/internal/progress"
	"github.com/amanullahtanweer/segscribe/internal/transcriber"
	"github.com/google/uuid"
)

// Transcriber is the engine entry point the API drives.
type Transcriber interface {
	Transcribe(ctx context.Context, req engine.Request) (string, error)
}

// AllowedContentTypes lists the upload media types accepted by /transcribe.
var AllowedContentTypes = []string{"audio/mpeg", "audio/wav", "audio/x-wav", "audio/x-m4a", "video/mp4", "audio/mp4"}

type Options struct {
	UploadDir    string
	OutputDir    string
	MaxUploadMB  int
	Backends     []string
	Version      string
	PollInterval time.Duration
	Logger       *slog.Logger

	// RemoveRepetitions is used when a request omits remove_repetitions.
	RemoveRepetitions bool
}

// TranscribeResponse is returned by POST /transcribe.
type TranscribeResponse struct {
	RequestID     string `json:"request_id"`
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	Transcription string `json:"transcription"`
	OutputPath    string `json:"output_path"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// Handler serves the upload, progress, health and info endpoints.
type Handler struct {
	engine    Transcriber
	tracker   progress.Tracker
	opts      Options
	logger    *slog.Logger
	startTime time.Time
	mux       *http.ServeMux
}

func NewHandler(eng Transcriber, tracker progress.Tracker, opts Options) *Handler {
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 512
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "./uploads"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "./transcriptions"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Handler{
		engine:    eng,
		tracker:   tracker,
		opts:      opts,
		logger:    opts.Logger,
		startTime: time.Now(),
		mux:       http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /transcribe", h.handleTranscribe)
	h.mux.HandleFunc("GET /progress/{id}", h.handleProgress)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /api/info", h.handleInfo)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.opts.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_form", fmt.Sprintf("invalid upload: %v", err), "")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required", "")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !allowed(contentType) {
		h.writeError(w, http.StatusBadRequest, "unsupported_type",
			fmt.Sprintf("Unsupported file type: %s. Supported types: %s", contentType, strings.Join(AllowedContentTypes, ", ")), "")
		return
	}

	maxWorkers := 0
	if v := r.FormValue("max_workers"); v != "" {
		maxWorkers, err = strconv.Atoi(v)
		if err != nil || maxWorkers < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid_field", "max_workers must be a positive integer", "")
			return
		}
	}
	format := r.FormValue("format")
	f, err := assemble.ParseFormat(format)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_field", err.Error(), "")
		return
	}
	dedupe := h.opts.RemoveRepetitions
	if v := r.FormValue("remove_repetitions"); v != "" {
		dedupe, err = strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_field", "remove_repetitions must be a boolean", "")
			return
		}
	}

	requestID := uuid.NewString()
	ctx := r.Context()
	logger := h.logger.With("request", requestID[:8], "filename", header.Filename)
	h.publish(ctx, requestID, progress.Progress{Status: progress.StatusInitializing, Message: "Starting transcription...", Percentage: 0})
	h.publish(ctx, requestID, progress.Progress{Status: progress.StatusUploading, Message: "Saving uploaded file...", Percentage: 10})

	base := filepath.Base(header.Filename)
	uploadPath := filepath.Join(h.opts.UploadDir, requestID+"_"+base)
	if err := saveUpload(file, uploadPath); err != nil {
		logger.Error("failed to save upload", "error", err)
		h.fail(ctx, w, requestID, http.StatusInternalServerError, "upload_failed", err)
		return
	}
	defer os.Remove(uploadPath)
	logger.Info("file saved", "path", uploadPath, "bytes", header.Size)

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	outputPath := filepath.Join(h.opts.OutputDir, requestID+"_"+stem+"_transcription"+f.Ext())

	text, err := h.engine.Transcribe(ctx, engine.Request{
		SourcePath:        uploadPath,
		OutputPath:        outputPath,
		MaxWorkers:        maxWorkers,
		Format:            string(f),
		Backend:           r.FormValue("model_name"),
		Language:          r.FormValue("language"),
		RemoveRepetitions: dedupe,
		JobID:             requestID,
	})
	if err != nil {
		logger.Error("transcription failed", "error", err)
		var inErr *media.InputError
		switch {
		case errors.As(err, &inErr), errors.Is(err, transcriber.ErrUnknownBackend):
			h.fail(ctx, w, requestID, http.StatusBadRequest, "invalid_input", err)
		default:
			h.fail(ctx, w, requestID, http.StatusInternalServerError, "transcription_failed", err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, TranscribeResponse{
		RequestID:     requestID,
		Filename:      header.Filename,
		ContentType:   contentType,
		Transcription: text,
		OutputPath:    outputPath,
	})
}

// handleProgress streams a job's progress as server-sent events until the
// job completes or the client goes away.
func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Streaming not supported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		p, err := h.tracker.Get(ctx, id)
		switch {
		case err == nil:
			writeEvent(w, p)
			flusher.Flush()
			if p.Completed {
				if err := h.tracker.Delete(ctx, id); err != nil {
					h.logger.Warn("failed to drop progress", "request", id, "error", err)
				}
				return
			}
		case errors.Is(err, progress.ErrNotFound):
			writeEvent(w, progress.Progress{Status: progress.StatusWaiting, Message: "Initializing..."})
			flusher.Flush()
		default:
			h.logger.Warn("progress lookup failed", "request", id, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"name":     "segscribe",
		"version":  h.opts.Version,
		"uptime":   time.Since(h.startTime).Round(time.Second).String(),
		"backends": h.opts.Backends,
		"formats":  []string{string(assemble.Plain), string(assemble.Timed)},
		"endpoints": map[string]string{
			"POST /transcribe":   "Upload an audio file and transcribe it",
			"GET /progress/{id}": "Stream progress updates for a request",
			"GET /health":        "Check the health status of the service",
			"GET /api/info":      "Describe the service",
		},
	})
}

func (h *Handler) publish(ctx context.Context, id string, p progress.Progress) {
	if h.tracker == nil {
		return
	}
	if err := h.tracker.Update(ctx, id, p); err != nil {
		h.logger.Warn("progress update failed", "request", id, "error", err)
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, id string, status int, code string, err error) {
	h.publish(ctx, id, progress.Progress{
		Status:    progress.StatusError,
		Message:   fmt.Sprintf("Transcription failed: %v", err),
		Completed: true,
		Error:     true,
	})
	h.writeError(w, status, code, err.Error(), id)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code, RequestID: requestID})
}

func writeEvent(w io.Writer, p progress.Progress) {
	data, _ := json.Marshal(p)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func allowed(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	for _, a := range AllowedContentTypes {
		if ct == a {
			return true
		}
	}
	return false
}

func saveUpload(src io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
