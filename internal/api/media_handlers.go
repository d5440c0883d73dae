package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mlog-app/mlog-store/internal/media"
)

// handleUpload stores the multipart "file" field and answers with a signed URL
// and the object path.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.bucket == nil {
		respondError(w, http.StatusServiceUnavailable, "Uploads are not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	ctx := r.Context()
	key := media.ObjectKey(currentUser(r).ID, header.Filename)
	if err := s.bucket.Upload(ctx, key, header.Header.Get("Content-Type"), file, header.Size); err != nil {
		respondStoreError(w, r, "Failed to upload image", err)
		return
	}
	url, err := s.bucket.SignedURL(ctx, key, s.opts.SignedURLTTL)
	if err != nil {
		respondStoreError(w, r, "Failed to upload image", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url, "path": key})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.bucket == nil {
		respondError(w, http.StatusServiceUnavailable, "Uploads are not configured")
		return
	}
	url, err := s.bucket.SignedURL(r.Context(), mux.Vars(r)["path"], s.opts.SignedURLTTL)
	if errors.Is(err, media.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Image not found")
		return
	}
	if err != nil {
		respondStoreError(w, r, "Failed to fetch image", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}
