package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"mediagate/internal/models"
)

var (
	errInternal         = errors.New("internal server error")
	errExactlyOneFile   = errors.New("exactly 1 file required")
	errFileIDRequired   = errors.New("fid is required")
	errInvalidMultipart = errors.New("invalid multipart payload")
)

type uploadedMedia struct {
	tempPath    string
	size        int64
	filename    string
	contentType string
}

func (m *uploadedMedia) cleanup() {
	if m != nil && m.tempPath != "" {
		_ = os.Remove(m.tempPath)
		m.tempPath = ""
	}
}

// Upload accepts exactly one multipart file part, writes it to the video
// backend, and dispatches a processing job. The payload shape is checked
// before either backend is touched; store and publish are two independent
// writes with no transactional coupling, so a publish failure leaves an
// orphan blob for the reconciler to collect.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	claims, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	maxBytes := h.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	media, err := h.readSingleFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer media.cleanup()

	file, err := os.Open(media.tempPath)
	if err != nil {
		h.logger().Error("upload spool open failed", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	defer file.Close()

	blobID, err := h.Videos.Put(r.Context(), file, media.size, media.contentType)
	if err != nil {
		h.logger().Error("blob store failed", "filename", media.filename, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	job := models.Job{
		BlobID:       blobID,
		Filename:     media.filename,
		ContentType:  media.contentType,
		Username:     claims.Username,
		Admin:        claims.Admin,
		DispatchedAt: time.Now().UTC(),
	}
	if err := h.Jobs.Publish(r.Context(), job); err != nil {
		// The blob already exists with no job; the reconciler deletes
		// it once it ages past the grace period.
		h.logger().Error("job dispatch failed", "blob_id", blobID, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	h.recorder().ObserveUpload()
	h.logger().Info("upload accepted", "blob_id", blobID, "filename", media.filename, "username", claims.Username)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// readSingleFile walks the multipart stream and spools the one permitted file
// part to a temp file. Zero or multiple file parts reject the request before
// any backend call; non-file form fields are ignored.
func (h *Handler) readSingleFile(r *http.Request) (*uploadedMedia, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, errInvalidMultipart
	}
	var media *uploadedMedia
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			media.cleanup()
			return nil, fmt.Errorf("read multipart data: %w", err)
		}
		if part.FileName() == "" {
			_, _ = io.Copy(io.Discard, part)
			_ = part.Close()
			continue
		}
		if media != nil {
			_ = part.Close()
			media.cleanup()
			return nil, errExactlyOneFile
		}
		saved, saveErr := saveMultipartFile(part)
		if saveErr != nil {
			return nil, saveErr
		}
		media = saved
	}
	if media == nil {
		return nil, errExactlyOneFile
	}
	return media, nil
}

func saveMultipartFile(part *multipart.Part) (*uploadedMedia, error) {
	defer part.Close()
	tmp, err := os.CreateTemp("", "mediagate-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()
	written, err := io.Copy(tmp, part)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("save upload: %w", err)
	}
	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &uploadedMedia{
		tempPath:    tmp.Name(),
		size:        written,
		filename:    part.FileName(),
		contentType: contentType,
	}, nil
}

// Download streams a converted track back to the caller by blob handle. The
// body is copied straight from the backend reader; nothing is buffered.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	fid := strings.TrimSpace(r.URL.Query().Get("fid"))
	if fid == "" {
		writeError(w, http.StatusBadRequest, errFileIDRequired)
		return
	}

	body, size, err := h.Tracks.Get(r.Context(), fid)
	if err != nil {
		h.logger().Error("blob fetch failed", "fid", fid, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fid+".mp3"))
	if size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		// Headers are already written; log the truncated stream and move on.
		h.logger().Warn("download stream interrupted", "fid", fid, "error", err)
	}
}
