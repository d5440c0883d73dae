package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mlog-app/mlog-store/internal/records"
)

// readDocument decodes the request body as a JSON object. It writes the error
// response itself and reports whether the handler should continue.
func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) (records.Document, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return nil, false
	}
	doc, err := records.DecodeDocument(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return nil, false
	}
	return doc, true
}

// readJSON decodes a small typed request body.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

// segmentVar returns a route variable usable as a key segment.
func segmentVar(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := mux.Vars(r)[name]
	if !records.ValidSegment(v) {
		respondError(w, http.StatusBadRequest, "Invalid "+name)
		return "", false
	}
	return v, true
}

// idOrNew returns the document's own id, or a fresh one when it has none.
func (s *Server) idOrNew(w http.ResponseWriter, doc records.Document) (string, bool) {
	id := doc.String("id")
	if id == "" {
		return s.newID(), true
	}
	if !records.ValidSegment(id) {
		respondError(w, http.StatusBadRequest, "Invalid id")
		return "", false
	}
	return id, true
}

// idField is the value to store under "id": the client's own value when it
// sent one, so a numeric id stays numeric, or the generated id.
func idField(doc records.Document, id string) any {
	if doc.String("id") != "" {
		return doc["id"]
	}
	return id
}

// requiredSegment reads a mandatory key segment from the document.
func requiredSegment(w http.ResponseWriter, doc records.Document, field string) (string, bool) {
	v := doc.String(field)
	if !records.ValidSegment(v) {
		respondError(w, http.StatusBadRequest, field+" is required")
		return "", false
	}
	return v, true
}

func (s *Server) timestamp() string { return records.Timestamp(s.now()) }

// list answers {name: [records under prefix]}.
func (s *Server) list(w http.ResponseWriter, r *http.Request, name, prefix string) {
	values, err := s.store.GetByPrefix(r.Context(), prefix)
	if err != nil {
		respondStoreError(w, r, "Failed to fetch "+name, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{name: values})
}

// getOne answers {name: record} or 404.
func (s *Server) getOne(w http.ResponseWriter, r *http.Request, name, key, missing string) {
	v, err := s.store.Get(r.Context(), key)
	if err != nil {
		respondStoreError(w, r, "Failed to fetch "+name, err)
		return
	}
	if v == nil {
		respondError(w, http.StatusNotFound, missing)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{name: v})
}

// save stores stored under key and answers {name: reply}.
func (s *Server) save(w http.ResponseWriter, r *http.Request, name, key string, stored, reply records.Document) {
	raw, err := stored.Marshal()
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := s.store.Set(r.Context(), key, raw); err != nil {
		respondStoreError(w, r, "Failed to save "+name, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{name: reply})
}

// createCatalog handles POST for musicals and actors: the id is taken from the
// body or generated, and updatedAt is stamped.
func (s *Server) createCatalog(w http.ResponseWriter, r *http.Request, name string, key func(string) string) {
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	id, ok := s.idOrNew(w, doc)
	if !ok {
		return
	}
	stored := doc.With(map[string]any{"id": idField(doc, id), "updatedAt": s.timestamp()})
	s.save(w, r, name, key(id), stored, doc.With(map[string]any{"id": idField(doc, id)}))
}

func (s *Server) handleListMusicals(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, "musicals", records.MusicalPrefix)
}

func (s *Server) handleGetMusical(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentVar(w, r, "id")
	if !ok {
		return
	}
	s.getOne(w, r, "musical", records.MusicalKey(id), "Musical not found")
}

func (s *Server) handleCreateMusical(w http.ResponseWriter, r *http.Request) {
	s.createCatalog(w, r, "musical", records.MusicalKey)
}

// handleDeleteMusical removes a musical together with its performances and
// reviews in one batch.
func (s *Server) handleDeleteMusical(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentVar(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	keys := []string{records.MusicalKey(id)}
	for _, prefix := range []string{records.PerformancePrefix(id), records.ReviewPrefix("musical", id)} {
		entries, err := s.store.Scan(ctx, prefix)
		if err != nil {
			respondStoreError(w, r, "Failed to delete musical", err)
			return
		}
		for _, e := range entries {
			keys = append(keys, e.Key)
		}
	}
	if err := s.store.DeleteMany(ctx, keys); err != nil {
		respondStoreError(w, r, "Failed to delete musical", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": len(keys)})
}

func (s *Server) handleListActors(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, "actors", records.ActorPrefix)
}

func (s *Server) handleGetActor(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentVar(w, r, "id")
	if !ok {
		return
	}
	s.getOne(w, r, "actor", records.ActorKey(id), "Actor not found")
}

func (s *Server) handleCreateActor(w http.ResponseWriter, r *http.Request) {
	s.createCatalog(w, r, "actor", records.ActorKey)
}

func (s *Server) handleListPerformances(w http.ResponseWriter, r *http.Request) {
	musicalID, ok := segmentVar(w, r, "musicalId")
	if !ok {
		return
	}
	s.list(w, r, "performances", records.PerformancePrefix(musicalID))
}

func (s *Server) handleCreatePerformance(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	musicalID, ok := requiredSegment(w, doc, "musicalId")
	if !ok {
		return
	}
	id, ok := s.idOrNew(w, doc)
	if !ok {
		return
	}
	stored := doc.With(map[string]any{"id": idField(doc, id), "updatedAt": s.timestamp()})
	s.save(w, r, "performance", records.PerformanceKey(musicalID, id), stored, doc.With(map[string]any{"id": idField(doc, id)}))
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	kind, ok := segmentVar(w, r, "type")
	if !ok {
		return
	}
	targetID, ok := segmentVar(w, r, "targetId")
	if !ok {
		return
	}
	s.list(w, r, "reviews", records.ReviewPrefix(kind, targetID))
}

// handleCreateReview always assigns a fresh id and records the author.
func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	kind, ok := requiredSegment(w, doc, "type")
	if !ok {
		return
	}
	targetID, ok := requiredSegment(w, doc, "targetId")
	if !ok {
		return
	}
	u := currentUser(r)
	id := s.newID()
	stored := doc.With(map[string]any{"id": id, "userId": u.ID, "createdAt": s.timestamp()})
	s.save(w, r, "review", records.ReviewKey(kind, targetID, id), stored,
		doc.With(map[string]any{"id": id, "userId": u.ID}))
}

func (s *Server) handleListSeatViews(w http.ResponseWriter, r *http.Request) {
	venueID, ok := segmentVar(w, r, "venueId")
	if !ok {
		return
	}
	s.list(w, r, "seatViews", records.SeatViewPrefix(venueID))
}

func (s *Server) handleCreateSeatView(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	venueID, ok := requiredSegment(w, doc, "venueId")
	if !ok {
		return
	}
	u := currentUser(r)
	id := s.newID()
	stored := doc.With(map[string]any{"id": id, "userId": u.ID, "createdAt": s.timestamp()})
	s.save(w, r, "seatView", records.SeatViewKey(venueID, id), stored,
		doc.With(map[string]any{"id": id, "userId": u.ID}))
}
