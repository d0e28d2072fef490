package httpapi

import (
	"net/http"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/pipeline"
)

// handleNodeMap reports the fixed node registry so a client can render
// a template editor without hardcoding the dependency graph.
func (s *Server) handleNodeMap(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "api_general") {
		return
	}
	out := make([]nodeSpecDTO, 0, len(pipeline.Registry))
	for _, spec := range pipeline.Registry {
		out = append(out, toNodeSpecDTO(spec))
	}
	writeJSON(w, http.StatusOK, out)
}
