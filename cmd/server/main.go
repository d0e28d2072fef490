// Command server runs the editing-session HTTP/WebSocket service: it
// wires configuration, the rate limiter and concurrency caps, the
// media/upload/template/session stores, and the pipeline node registry
// into an httpapi.Server and serves it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/config"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/httpapi"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/media"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/pipeline"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/ratelimit"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/session"
)

func main() {
	cfg := config.FromEnv()

	logLevel := slog.LevelInfo
	if cfg.DeveloperMode {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	for _, dir := range []string{cfg.MediaRoot, cfg.ArtifactRoot, cfg.TemplatesRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	limiter := ratelimit.NewLimiter(
		ratelimit.WithTTL(cfg.RateLimitTTL),
		ratelimit.WithCleanupInterval(cfg.RateLimitCleanupInterval),
		ratelimit.WithMaxBuckets(cfg.RateLimitMaxBuckets),
		ratelimit.WithEvictBatch(cfg.RateLimitEvictBatch),
	)
	admitter := ratelimit.NewAdmitter(limiter, cfg.HTTPAllBurst, cfg.HTTPAllRPM, cfg.HTTPGlobalPerIPBurst, cfg.HTTPGlobalPerIPRPM, []ratelimit.RuleConfig{
		{Name: "create_session", PerIPBurst: cfg.CreateSessionPerIPBurst, PerIPRPM: cfg.CreateSessionPerIPRPM, AllIPBurst: cfg.CreateSessionAllBurst, AllIPRPM: cfg.CreateSessionAllRPM},
		{Name: "upload_media", PerIPBurst: cfg.UploadMediaPerIPBurst, PerIPRPM: cfg.UploadMediaPerIPRPM, AllIPBurst: cfg.UploadMediaAllBurst, AllIPRPM: cfg.UploadMediaAllRPM},
		{Name: "upload_media_count", PerIPBurst: cfg.UploadMediaCountPerIPBurst, PerIPRPM: cfg.UploadMediaCountPerIPRPM, AllIPBurst: cfg.UploadMediaCountAllBurst, AllIPRPM: cfg.UploadMediaCountAllRPM},
		{Name: "media_get", PerIPBurst: cfg.MediaGetPerIPBurst, PerIPRPM: cfg.MediaGetPerIPRPM, AllIPBurst: cfg.MediaGetAllBurst, AllIPRPM: cfg.MediaGetAllRPM},
		{Name: "clear_session", PerIPBurst: cfg.ClearSessionPerIPBurst, PerIPRPM: cfg.ClearSessionPerIPRPM, AllIPBurst: cfg.ClearSessionAllBurst, AllIPRPM: cfg.ClearSessionAllRPM},
		{Name: "api_general", PerIPBurst: cfg.APIGeneralPerIPBurst, PerIPRPM: cfg.APIGeneralPerIPRPM, AllIPBurst: cfg.APIGeneralAllBurst, AllIPRPM: cfg.APIGeneralAllRPM},
		{Name: "ws_connect", PerIPBurst: cfg.WSConnectPerIPBurst, PerIPRPM: cfg.WSConnectPerIPRPM, AllIPBurst: cfg.WSConnectAllBurst, AllIPRPM: cfg.WSConnectAllRPM},
		{Name: "ws_chat_send", PerIPBurst: cfg.WSChatSendPerIPBurst, PerIPRPM: cfg.WSChatSendPerIPRPM, AllIPBurst: cfg.WSChatSendAllBurst, AllIPRPM: cfg.WSChatSendAllRPM},
	})
	caps := ratelimit.NewConcurrencyCaps(cfg.MaxWSConnections, cfg.MaxChatTurns, cfg.MaxUploads)

	mediaStore := media.NewStore(log)
	frameExtract := media.NewFrameExtractor(envOr("OS_FFMPEG_BINARY", "ffmpeg"), log)

	templateStore, err := pipeline.NewTemplateStore(cfg.TemplatesRoot)
	if err != nil {
		return err
	}
	nodeManager := pipeline.NewNodeManager(placeholderTools()...)

	sessions := session.NewStore()

	srv := httpapi.New(cfg, log, sessions, mediaStore, frameExtract, templateStore, nodeManager, admitter, caps, nil)

	addr := envOr("OS_LISTEN_ADDR", ":8080")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// placeholderTools registers a stub Tool for every node id in the
// registry so the interceptor chain and executor are fully
// exercisable end to end; the actual editing algorithms behind each
// node (shot detection, scripting, rendering, ...) are supplied by
// whatever media/LLM backend a deployment wires in, not this service.
func placeholderTools() []pipeline.Tool {
	tools := make([]pipeline.Tool, 0, len(pipeline.Registry))
	for _, spec := range pipeline.Registry {
		id := spec.ID
		tools = append(tools, pipeline.ToolFunc{
			NodeName: id,
			Fn: func(ctx context.Context, args map[string]any) (pipeline.ToolResult, error) {
				return pipeline.ToolResult{
					Summary:           "node " + id + " has no backing implementation configured",
					IsError:           false,
					ToolExecuteResult: args,
				}, nil
			},
		})
	}
	return tools
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
