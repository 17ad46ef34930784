package storage

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const maxUploadSize = 512 << 20

type Handler struct {
	store BlobStore
	log   *zap.Logger
}

func NewHandler(store BlobStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: store, log: log}
}

type uploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Upload stores the multipart field "file" and answers with its URL.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "no file provided"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "could not read file"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	url, err := h.store.Put(r.Context(), data, header.Filename, contentType)
	if errors.Is(err, ErrEmptyFile) {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "empty file"})
		return
	}
	if err != nil {
		h.log.Error("upload", zap.String("file", header.Filename), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Error: "upload failed"})
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{Success: true, URL: url})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
