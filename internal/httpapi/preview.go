package httpapi

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/apperr"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/media"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/session"
)

// previewRoots lists every directory a preview request may read from:
// the session's own media directory plus the process-wide artifact and
// template roots. A path resolving outside all of these, even via a
// symlink, is refused.
func (s *Server) previewRoots(sess *session.Session) []string {
	return []string{sess.MediaDir, s.cfg.ArtifactRoot, s.cfg.TemplatesRoot}
}

// handlePreview serves a sandboxed read of any file under the
// allow-listed roots, the one generic escape hatch clients use to
// preview artifact outputs, media files, or template blobs without a
// dedicated endpoint for each.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "media_get") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}

	reqPath := r.URL.Query().Get("path")
	if reqPath == "" {
		s.writeError(w, apperr.Validation("path query parameter is required"))
		return
	}

	abs, err := resolveUnderAnyRoot(reqPath, s.previewRoots(sess))
	if err != nil {
		s.writeError(w, apperr.Forbidden("path escapes allow-listed roots"))
		return
	}
	if info, err := os.Stat(abs); err != nil || info.IsDir() {
		s.writeError(w, apperr.NotFound("preview target not found"))
		return
	}
	http.ServeFile(w, r, abs)
}

// resolveUnderAnyRoot joins reqPath against each allow-listed root in
// turn (an absolute reqPath is used as-is) and returns the first
// candidate that resolves, after symlink resolution, inside that root.
func resolveUnderAnyRoot(reqPath string, roots []string) (string, error) {
	for _, root := range roots {
		if root == "" {
			continue
		}
		candidate := reqPath
		if !filepath.IsAbs(reqPath) {
			candidate = filepath.Join(root, reqPath)
		}
		if media.IsUnderDir(root, candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("httpapi: %q escapes every allow-listed root", reqPath)
}
