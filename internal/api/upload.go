package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
	"github.com/ashureev/whiteboard-tutor/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const uploadField = "file"

// UploadHandler handles file uploads attached to tutoring sessions.
type UploadHandler struct {
	*Handler
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(base *Handler) *UploadHandler {
	return &UploadHandler{Handler: base}
}

// RegisterRoutes registers upload routes.
func (h *UploadHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/upload", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/{upload_id}", h.Get)
	})
}

// Upload stores a multipart file under the upload directory and records
// its metadata. The optional session is taken from the session_id form
// field, header or query.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusServiceUnavailable, "uploads not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		Error(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Debug("Failed to close upload part", "error", closeErr)
		}
	}()

	sessionID := r.FormValue(identity.SessionParam)
	if sessionID == "" {
		sessionID = identity.SessionIDFromRequest(r)
	}
	if sessionID != "" && !identity.ValidSessionID(sessionID) {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	upload := &domain.Upload{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Filename:    filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		CreatedAt:   h.opts.Clock.Now().UTC(),
	}
	if upload.ContentType == "" {
		upload.ContentType = "application/octet-stream"
	}

	size, path, err := h.save(upload.ID, upload.Filename, file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		slog.Error("Failed to store upload", "error", err, "upload_id", upload.ID)
		Error(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	upload.Size = size
	upload.Path = path

	if err := h.repo.SaveUpload(r.Context(), upload); err != nil {
		slog.Error("Failed to record upload", "error", err, "upload_id", upload.ID)
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Warn("Failed to remove orphaned upload", "error", rmErr, "path", path)
		}
		Error(w, http.StatusInternalServerError, "failed to record upload")
		return
	}
	if h.opts.Metrics != nil {
		h.opts.Metrics.Uploads.Inc()
	}

	slog.Info("File uploaded", "upload_id", upload.ID, "session_id", sessionID, "size", size)
	JSON(w, http.StatusCreated, upload)
}

// Get returns upload metadata.
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "upload not found")
		return
	}
	id := chi.URLParam(r, "upload_id")
	if _, err := uuid.Parse(id); err != nil {
		Error(w, http.StatusBadRequest, "invalid upload id")
		return
	}

	upload, err := h.repo.GetUpload(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load upload", "error", err, "upload_id", id)
		Error(w, http.StatusInternalServerError, "failed to load upload")
		return
	}
	if upload == nil {
		Error(w, http.StatusNotFound, "upload not found")
		return
	}
	JSON(w, http.StatusOK, upload)
}

// PurgeSession deletes every upload attached to sessionID, metadata and
// files. It matches tutor.CleanupCallback.
func (h *UploadHandler) PurgeSession(ctx context.Context, sessionID string) {
	if h.repo == nil {
		return
	}
	removed, err := h.repo.DeleteSessionUploads(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to delete session uploads", "error", err, "session_id", sessionID)
		return
	}
	for _, u := range removed {
		if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove upload file", "error", err, "upload_id", u.ID, "path", u.Path)
		}
	}
	if len(removed) > 0 {
		slog.Info("Session uploads purged", "session_id", sessionID, "count", len(removed))
	}
}

// save writes the file as <id><ext> and returns its size and path.
func (h *UploadHandler) save(id, filename string, src io.Reader) (int64, string, error) {
	if err := os.MkdirAll(h.opts.UploadDir, 0o755); err != nil {
		return 0, "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(h.opts.UploadDir, id+ext)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create upload file: %w", err)
	}
	n, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return n, path, nil
}
