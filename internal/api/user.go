package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mlog-app/mlog-store/internal/auth"
	"github.com/mlog-app/mlog-store/internal/records"
)

// handleGetProfile returns the caller's profile, or a bare one when none has
// been saved yet.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	v, err := s.store.Get(r.Context(), records.ProfileKey(u.ID))
	if err != nil {
		respondStoreError(w, r, "Failed to fetch user profile", err)
		return
	}
	if v == nil {
		respondJSON(w, http.StatusOK, map[string]any{"profile": map[string]string{"userId": u.ID}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]json.RawMessage{"profile": v})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	u := currentUser(r)
	stored := doc.With(map[string]any{"userId": u.ID, "updatedAt": s.timestamp()})
	s.save(w, r, "profile", records.ProfileKey(u.ID), stored, doc.With(map[string]any{"userId": u.ID}))
}

func (s *Server) handleListWatched(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, "watched", records.WatchedPrefix(currentUser(r).ID))
}

func (s *Server) handleAddWatched(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	u := currentUser(r)
	id := s.newID()
	stored := doc.With(map[string]any{"id": id, "userId": u.ID, "watchedAt": s.timestamp()})
	s.save(w, r, "watched", records.WatchedKey(u.ID, id), stored,
		doc.With(map[string]any{"id": id, "userId": u.ID}))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	err := s.dir.ChangePassword(r.Context(), currentUser(r).Email, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
	case errors.Is(err, auth.ErrBadCredentials):
		respondError(w, http.StatusBadRequest, "Current password does not match")
	case errors.Is(err, auth.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnknownAccount):
		respondError(w, http.StatusNotFound, "Account not found")
	default:
		respondStoreError(w, r, "Failed to change password", err)
	}
}
