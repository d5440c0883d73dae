package api

import (
	"errors"
	"net/http"

	"github.com/mlog-app/mlog-store/internal/auth"
)

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	u, err := s.dir.SignUp(r.Context(), req.Email, req.Password, req.Name)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"user": u})
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrEmailTaken):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondStoreError(w, r, "Sign up failed", err)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	token, u, err := s.dir.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"token": token, "user": u})
	case errors.Is(err, auth.ErrBadCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	default:
		respondStoreError(w, r, "Login failed", err)
	}
}

func (s *Server) handleEmailAvailable(w http.ResponseWriter, r *http.Request) {
	available, err := s.dir.EmailAvailable(r.Context(), r.URL.Query().Get("email"))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]bool{"available": available})
	case errors.Is(err, auth.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondStoreError(w, r, "Failed to check email", err)
	}
}
