// Package httpapi assembles the REST and WebSocket boundary: request
// admission (rate limits, concurrency caps), session/media/template
// handlers, directory-containment-checked file serving, and the chat
// streaming socket wired to internal/chatstream and internal/pipeline.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/artifact"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/chatstream"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/config"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/media"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/pipeline"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/ratelimit"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/session"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/upload"
)

// AgentLoop drives one chat turn's model/tool loop; construction of
// the underlying LLM client and prompt content belongs to whatever
// model backend a deployment wires in, so the server only depends on
// this narrow streaming contract. emit reports deltas/tool events
// exactly like chatstream.TurnFunc expects.
type AgentLoop func(rt *pipeline.RuntimeContext, sess *session.Session, userText string, media []session.MediaMeta, emit func(chatstream.AgentEvent)) (string, error)

// sessionRuntime holds the per-session collaborators that live beside
// (but are not part of) session.Session: its artifact store and
// interceptor chain.
type sessionRuntime struct {
	artifacts *artifact.Store
	chain     *pipeline.Chain
}

// Server wires every dependency the HTTP/WS boundary needs.
type Server struct {
	cfg config.Config
	log *slog.Logger

	sessions      *session.Store
	mediaStore    *media.Store
	frameExtract  *media.FrameExtractor
	templateStore *pipeline.TemplateStore
	nodeManager   *pipeline.NodeManager
	admitter      *ratelimit.Admitter
	caps          *ratelimit.ConcurrencyCaps
	agentLoop     AgentLoop
	chat          *chatstream.Controller
	upgrader      websocket.Upgrader

	runtimesMu sync.Mutex
	runtimes   map[string]*sessionRuntime
}

// New builds a Server. agentLoop may be nil, in which case chat.send
// turns simply echo the user's text back as the assistant reply.
func New(
	cfg config.Config,
	log *slog.Logger,
	sessions *session.Store,
	mediaStore *media.Store,
	frameExtract *media.FrameExtractor,
	templateStore *pipeline.TemplateStore,
	nodeManager *pipeline.NodeManager,
	admitter *ratelimit.Admitter,
	caps *ratelimit.ConcurrencyCaps,
	agentLoop AgentLoop,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:           cfg,
		log:           log,
		sessions:      sessions,
		mediaStore:    mediaStore,
		frameExtract:  frameExtract,
		templateStore: templateStore,
		nodeManager:   nodeManager,
		admitter:      admitter,
		caps:          caps,
		agentLoop:     agentLoop,
		chat:          chatstream.NewController(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		runtimes: make(map[string]*sessionRuntime),
	}
}

// Router builds the chi router mounting every REST and WebSocket
// endpoint, with the standard middleware stack (request id, structured
// access log, panic recovery, timeout, CORS).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{sid}", s.handleGetSession)
		r.Post("/sessions/{sid}/clear", s.handleClearSession)
		r.Post("/sessions/{sid}/cancel", s.handleCancelSession)

		r.Post("/sessions/{sid}/media", s.handleUploadMedia)
		r.Post("/sessions/{sid}/media/init", s.handleInitUpload)
		r.Post("/sessions/{sid}/media/{uid}/chunk", s.handleUploadChunk)
		r.Post("/sessions/{sid}/media/{uid}/complete", s.handleCompleteUpload)
		r.Post("/sessions/{sid}/media/{uid}/cancel", s.handleCancelUpload)
		r.Get("/sessions/{sid}/media/pending", s.handleListPendingMedia)
		r.Delete("/sessions/{sid}/media/pending/{mid}", s.handleDeletePendingMedia)
		r.Get("/sessions/{sid}/media/{mid}/thumb", s.handleMediaThumb)
		r.Get("/sessions/{sid}/media/{mid}/file", s.handleMediaFile)
		r.Get("/sessions/{sid}/preview", s.handlePreview)

		r.Get("/templates", s.handleListTemplates)
		r.Post("/templates", s.handleCreateTemplate)
		r.Get("/templates/{id}", s.handleGetTemplate)
		r.Put("/templates/{id}", s.handleUpdateTemplate)
		r.Delete("/templates/{id}", s.handleDeleteTemplate)

		r.Get("/node-map", s.handleNodeMap)
	})

	r.Get("/ws/sessions/{sid}/chat", s.handleWS)

	return r
}

// runtimeFor returns (creating if needed) the artifact store and
// interceptor chain backing sess.
func (s *Server) runtimeFor(sess *session.Session) (*sessionRuntime, error) {
	s.runtimesMu.Lock()
	defer s.runtimesMu.Unlock()

	if rt, ok := s.runtimes[sess.ID]; ok {
		return rt, nil
	}
	store, err := artifact.NewStore(s.cfg.ArtifactRoot, sess.ID, s.log)
	if err != nil {
		return nil, fmt.Errorf("httpapi: build artifact store for %s: %w", sess.ID, err)
	}
	chain := pipeline.NewChain(s.nodeManager, store, s.log)
	rt := &sessionRuntime{artifacts: store, chain: chain}
	s.runtimes[sess.ID] = rt
	return rt, nil
}

func (s *Server) dropRuntime(sessionID string) {
	s.runtimesMu.Lock()
	defer s.runtimesMu.Unlock()
	delete(s.runtimes, sessionID)
}

// newUploadManager builds the resumable upload.Manager for a freshly
// created session's media directory.
func newUploadManager(cfg config.Config, mediaDir string) *upload.Manager {
	return upload.NewManager(mediaDir, cfg.ResumableChunkBytes, cfg.ResumableUploadTTL)
}
