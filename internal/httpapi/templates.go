package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/apperr"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/pipeline"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "api_general") {
		return
	}
	templates, err := s.templateStore.List()
	if err != nil {
		s.writeError(w, apperr.Internal(err, "list templates"))
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "api_general") {
		return
	}
	id := chi.URLParam(r, "id")
	t, ok, err := s.templateStore.Get(id)
	if err != nil {
		s.writeError(w, apperr.Internal(err, "get template %s", id))
		return
	}
	if !ok {
		s.writeError(w, apperr.NotFound("template %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "api_general") {
		return
	}
	var t pipeline.EditTemplate
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.writeError(w, apperr.Validation("malformed request body: %v", err))
		return
	}
	created, err := s.templateStore.Create(t)
	if err != nil {
		s.writeError(w, apperr.Internal(err, "create template"))
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "api_general") {
		return
	}
	id := chi.URLParam(r, "id")
	var t pipeline.EditTemplate
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.writeError(w, apperr.Validation("malformed request body: %v", err))
		return
	}
	updated, err := s.templateStore.Update(id, t)
	if err != nil {
		s.writeError(w, mapTemplateErr(err, id))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "api_general") {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.templateStore.Delete(id); err != nil {
		s.writeError(w, mapTemplateErr(err, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func mapTemplateErr(err error, id string) error {
	switch {
	case errors.Is(err, pipeline.ErrPresetImmutable):
		return apperr.Forbidden("template %q is a preset and cannot be modified or deleted", id)
	case errors.Is(err, pipeline.ErrTemplateNotFound):
		return apperr.NotFound("template %q not found", id)
	default:
		return apperr.Internal(err, "template %s", id)
	}
}
