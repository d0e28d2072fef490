package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/apperr"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/session"
)

type createSessionRequest struct {
	Lang string `json:"lang"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "create_session") {
		return
	}

	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, apperr.Validation("malformed request body: %v", err))
			return
		}
	}

	id := uuid.NewString()
	mediaDir := filepath.Join(s.cfg.MediaRoot, id)
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		s.writeError(w, apperr.Internal(err, "create session media directory"))
		return
	}

	uploads := newUploadManager(s.cfg, mediaDir)
	sess := session.New(id, mediaDir, uploads, s.mediaStore, os.Getenv, nil)
	if req.Lang != "" {
		sess.Lang = req.Lang
	}
	sess.DeveloperMode = s.cfg.DeveloperMode

	s.sessions.Put(sess)
	writeJSON(w, http.StatusOK, toSnapshot(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "api_general") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, toSnapshot(sess))
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "clear_session") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}

	sess.LockChat()
	defer sess.UnlockChat()
	sess.ClearHistory()
	writeJSON(w, http.StatusOK, toSnapshot(sess))
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "api_general") {
		return
	}
	sid := chi.URLParam(r, "sid")
	if _, err := s.sessions.GetOrError(sid); err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}
	cancelled := s.chat.Cancel(sid)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}
