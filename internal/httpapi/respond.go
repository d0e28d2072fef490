package httpapi

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/apperr"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/ratelimit"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// errorBody is the wire shape of every non-2xx JSON error response.
type errorBody struct {
	Detail string `json:"detail"`
	Trace  string `json:"trace,omitempty"`
}

// statusForKind maps an apperr.Kind to its HTTP status, the single
// place the boundary's error kinds fan out to response codes.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates any error into the response the boundary's
// single responder commits: developer mode includes the error text and
// a stack trace for internal errors, production mode reports a generic
// message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)

	body := errorBody{Detail: err.Error()}
	if kind == apperr.KindInternal {
		s.log.Error("request failed", "error", err)
		if !s.cfg.DeveloperMode {
			body = errorBody{Detail: "internal server error"}
		} else {
			body.Trace = string(debug.Stack())
		}
	}
	writeJSON(w, status, body)
}

// rateLimitedBody is the 429 wire format every admission denial uses.
type rateLimitedBody struct {
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after"`
}

func writeRateLimited(w http.ResponseWriter, decision ratelimit.Decision) {
	secs := ratelimit.RetryAfterSeconds(decision.RetryAfter)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{Detail: "Too Many Requests", RetryAfter: secs})
}

// admit checks rule at cost=1 for the request's client IP, writing a
// 429 and reporting false if denied.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, rule string) bool {
	return s.admitCost(w, r, rule, 1)
}

func (s *Server) admitCost(w http.ResponseWriter, r *http.Request, rule string, cost float64) bool {
	ip := clientIP(r, s.cfg.TrustProxyHeaders)
	decision := s.admitter.Check(rule, ip, cost)
	if !decision.Allowed {
		writeRateLimited(w, decision)
		return false
	}
	return true
}

// admitMediaCount enforces the upload_media_count rule at cost =
// number of media items a request is about to add (1 for a resumable
// init, the file count for a direct multipart upload). It only checks
// that rule's own buckets: the caller's earlier admit/admitCost call
// already covered the global-all and per-ip-global layers for this
// request.
func (s *Server) admitMediaCount(w http.ResponseWriter, r *http.Request, count float64) bool {
	ip := clientIP(r, s.cfg.TrustProxyHeaders)
	decision := s.admitter.CheckRuleOnly("upload_media_count", ip, count)
	if !decision.Allowed {
		writeRateLimited(w, decision)
		return false
	}
	return true
}

// clientIP extracts the caller's address, trusting X-Forwarded-For
// only when the deployment is configured to sit behind a proxy.
func clientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			parts := strings.Split(fwd, ",")
			return strings.TrimSpace(parts[0])
		}
		if real := r.Header.Get("X-Real-IP"); real != "" {
			return strings.TrimSpace(real)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
