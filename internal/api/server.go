// Package api serves the fan platform's HTTP routes on top of the record
// store.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlog-app/mlog-store/internal/auth"
	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/logger"
	"github.com/mlog-app/mlog-store/internal/media"
)

// Options tunes the HTTP layer. Zero values select the defaults.
type Options struct {
	// BasePath mounts every route under a prefix, e.g. "/make-server".
	BasePath       string
	MaxBodyBytes   int64
	MaxUploadBytes int64
	SignedURLTTL   time.Duration
	CORSOrigin     string
	// Registry, when set, receives HTTP metrics and is served on /metrics.
	Registry *prometheus.Registry
}

// Server holds the dependencies of the route handlers.
type Server struct {
	store   kv.KV
	dir     *auth.Directory
	tokens  *auth.Tokens
	bucket  media.Bucket
	opts    Options
	metrics *httpMetrics

	now   func() time.Time
	newID func() string
}

// New returns a server. bucket may be nil, in which case image routes answer
// 503.
func New(store kv.KV, dir *auth.Directory, tokens *auth.Tokens, bucket media.Bucket, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = media.MaxSignedURLTTL
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	s := &Server{
		store:  store,
		dir:    dir,
		tokens: tokens,
		bucket: bucket,
		opts:   opts,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	if opts.Registry != nil {
		s.metrics = newHTTPMetrics(opts.Registry)
	}
	return s
}

// Handler returns the routed handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	root := mux.NewRouter()
	r := root
	if s.opts.BasePath != "" {
		r = root.PathPrefix(s.opts.BasePath).Subrouter()
	}
	if s.metrics != nil {
		r.Use(s.metrics.middleware)
		root.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/email-available", s.handleEmailAvailable).Methods(http.MethodGet)

	r.HandleFunc("/musicals", s.handleListMusicals).Methods(http.MethodGet)
	r.HandleFunc("/musicals", s.requireAuth(s.handleCreateMusical)).Methods(http.MethodPost)
	r.HandleFunc("/musicals/{id}", s.handleGetMusical).Methods(http.MethodGet)
	r.HandleFunc("/musicals/{id}", s.requireAuth(s.handleDeleteMusical)).Methods(http.MethodDelete)

	r.HandleFunc("/actors", s.handleListActors).Methods(http.MethodGet)
	r.HandleFunc("/actors", s.requireAuth(s.handleCreateActor)).Methods(http.MethodPost)
	r.HandleFunc("/actors/{id}", s.handleGetActor).Methods(http.MethodGet)

	r.HandleFunc("/performances/musical/{musicalId}", s.handleListPerformances).Methods(http.MethodGet)
	r.HandleFunc("/performances", s.requireAuth(s.handleCreatePerformance)).Methods(http.MethodPost)

	r.HandleFunc("/reviews/{type}/{targetId}", s.handleListReviews).Methods(http.MethodGet)
	r.HandleFunc("/reviews", s.requireAuth(s.handleCreateReview)).Methods(http.MethodPost)

	r.HandleFunc("/seatviews/venue/{venueId}", s.handleListSeatViews).Methods(http.MethodGet)
	r.HandleFunc("/seatviews", s.requireAuth(s.handleCreateSeatView)).Methods(http.MethodPost)

	r.HandleFunc("/user/profile", s.requireAuth(s.handleGetProfile)).Methods(http.MethodGet)
	r.HandleFunc("/user/profile", s.requireAuth(s.handleUpdateProfile)).Methods(http.MethodPost)
	r.HandleFunc("/user/watched", s.requireAuth(s.handleListWatched)).Methods(http.MethodGet)
	r.HandleFunc("/user/watched", s.requireAuth(s.handleAddWatched)).Methods(http.MethodPost)
	r.HandleFunc("/user/password", s.requireAuth(s.handleChangePassword)).Methods(http.MethodPut)

	r.HandleFunc("/upload", s.requireAuth(s.handleUpload)).Methods(http.MethodPost)
	r.HandleFunc("/image/{path:.+}", s.handleImage).Methods(http.MethodGet)

	return s.cors(logRequests(root))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON sends payload as JSON with the given status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("encode response: %v", err)
		status = http.StatusInternalServerError
		response = []byte(`{"error":"Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

// respondError sends {"error": message}.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError reports a failed record store call. Invalid input is the
// caller's fault and is echoed back; anything else is logged and hidden
// behind message.
func respondStoreError(w http.ResponseWriter, r *http.Request, message string, err error) {
	if errors.Is(err, kv.ErrInvalidArgument) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.WithFields(map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Errorf("%s: %v", message, err)
	respondError(w, http.StatusInternalServerError, message)
}
