package api

import (
	"bytes"
	"chatterbox/internal/models"
	"chatterbox/internal/storage"
	"chatterbox/internal/upload"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	imagesPath = "/api/images/"
	// multipart framing on top of the image itself
	maxUploadBody = upload.MaxImageSize + 64<<10
)

type UploadResponse struct {
	URL string `json:"url"`
}

func (a *API) storeImage(userID string, img upload.Image) (string, error) {
	hash, err := a.files.Save(bytes.NewReader(img.Data))
	if err != nil {
		return "", err
	}
	err = a.store.UpsertFileMetadata(storage.FileMetadata{
		ID:        hash,
		MimeType:  img.MimeType,
		Size:      int64(len(img.Data)),
		CreatedAt: a.now().UnixNano(),
		UserID:    userID,
	})
	if err != nil {
		return "", err
	}
	return imagesPath + hash, nil
}

// UploadImageHandler accepts a multipart "image" field and returns the
// URL to reference it by.
func (a *API) UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(upload.MaxImageSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, upload.UserMessage(upload.ErrTooLarge))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image provided")
		return
	}
	defer func() { _ = file.Close() }()

	img, err := upload.Read(file, header.Header.Get("Content-Type"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, upload.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		msg := upload.UserMessage(err)
		if msg == "" {
			msg = "Invalid image"
		}
		writeError(w, status, msg)
		return
	}

	url, err := a.storeImage(me.ID, img)
	if err != nil {
		slog.Error("failed to store image", "user_id", me.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store image")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{URL: url})
}

// GetImageHandler serves a stored image. Images are addressed by content
// hash so responses never change.
func (a *API) GetImageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	meta, err := a.store.GetFileMetadata(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}
	if err != nil {
		slog.Error("failed to get file metadata", "file_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	f, err := a.files.Get(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}
	if err != nil {
		slog.Error("failed to open image", "file_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, f); err != nil {
		slog.Debug("failed to write image", "file_id", id, "error", err)
	}
}
