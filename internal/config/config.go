// Package config collects the environment-variable driven settings for
// the service. Config file parsing is intentionally unsupported; every
// knob here is sourced from the process environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime tunable the service reads at startup.
type Config struct {
	DeveloperMode bool

	MediaRoot     string
	ArtifactRoot  string
	TemplatesRoot string

	ResumableChunkBytes int64
	ResumableUploadTTL  time.Duration

	MaxUploadFilesPerRequest int
	MaxMediaPerSession       int
	MaxPendingMediaPerSession int

	UploadCostBytes int64

	RateLimitTTL             time.Duration
	RateLimitCleanupInterval time.Duration
	RateLimitMaxBuckets      int
	RateLimitEvictBatch      int

	HTTPAllRPM, HTTPAllBurst                       float64
	HTTPGlobalPerIPRPM, HTTPGlobalPerIPBurst       float64
	CreateSessionPerIPRPM, CreateSessionPerIPBurst float64
	CreateSessionAllRPM, CreateSessionAllBurst     float64
	UploadMediaPerIPRPM, UploadMediaPerIPBurst     float64
	UploadMediaAllRPM, UploadMediaAllBurst         float64
	UploadMediaCountPerIPRPM, UploadMediaCountPerIPBurst float64
	UploadMediaCountAllRPM, UploadMediaCountAllBurst     float64
	MediaGetPerIPRPM, MediaGetPerIPBurst           float64
	MediaGetAllRPM, MediaGetAllBurst               float64
	ClearSessionPerIPRPM, ClearSessionPerIPBurst   float64
	ClearSessionAllRPM, ClearSessionAllBurst       float64
	APIGeneralPerIPRPM, APIGeneralPerIPBurst       float64
	APIGeneralAllRPM, APIGeneralAllBurst           float64

	WSConnectPerIPRPM, WSConnectPerIPBurst float64
	WSConnectAllRPM, WSConnectAllBurst     float64
	WSChatSendPerIPRPM, WSChatSendPerIPBurst float64
	WSChatSendAllRPM, WSChatSendAllBurst     float64

	MaxWSConnections int64
	MaxChatTurns     int64
	MaxUploads       int64

	ThumbnailTimeout time.Duration

	TrustProxyHeaders bool
}

// FromEnv builds a Config, applying production-sensible defaults to
// every knob not set in the environment.
func FromEnv() Config {
	return Config{
		DeveloperMode: envBool("OS_DEV_MODE", false),

		MediaRoot:     envStr("OS_MEDIA_ROOT", "./data/media"),
		ArtifactRoot:  envStr("OS_ARTIFACT_ROOT", "./data/artifacts"),
		TemplatesRoot: envStr("OS_TEMPLATES_ROOT", "./data/templates"),

		ResumableChunkBytes: envInt64("UPLOAD_RESUMABLE_CHUNK_BYTES", 8*1024*1024),
		ResumableUploadTTL:  time.Duration(envInt64("RESUMABLE_UPLOAD_TTL_SEC", 3600)) * time.Second,

		MaxUploadFilesPerRequest:  envInt("MAX_UPLOAD_FILES_PER_REQUEST", 30),
		MaxMediaPerSession:        envInt("MAX_MEDIA_PER_SESSION", 30),
		MaxPendingMediaPerSession: envInt("MAX_PENDING_MEDIA_PER_SESSION", 30),

		UploadCostBytes: envInt64("RATE_LIMIT_UPLOAD_COST_BYTES", 10*1024*1024),

		RateLimitTTL:             time.Duration(envInt64("RATE_LIMIT_TTL_SEC", 900)) * time.Second,
		RateLimitCleanupInterval: time.Duration(envInt64("RATE_LIMIT_CLEANUP_INTERVAL_SEC", 60)) * time.Second,
		RateLimitMaxBuckets:      envInt("RATE_LIMIT_MAX_BUCKETS", 100_000),
		RateLimitEvictBatch:      envInt("RATE_LIMIT_EVICT_BATCH", 2_000),

		HTTPAllRPM: envFloat("RATE_LIMIT_HTTP_ALL_RPM", 1200), HTTPAllBurst: envFloat("RATE_LIMIT_HTTP_ALL_BURST", 200),
		HTTPGlobalPerIPRPM: envFloat("RATE_LIMIT_HTTP_GLOBAL_RPM", 3000), HTTPGlobalPerIPBurst: envFloat("RATE_LIMIT_HTTP_GLOBAL_BURST", 600),

		CreateSessionPerIPRPM: envFloat("RATE_LIMIT_CREATE_SESSION_RPM", 3000), CreateSessionPerIPBurst: envFloat("RATE_LIMIT_CREATE_SESSION_BURST", 50),
		CreateSessionAllRPM: envFloat("RATE_LIMIT_CREATE_SESSION_ALL_RPM", 120), CreateSessionAllBurst: envFloat("RATE_LIMIT_CREATE_SESSION_ALL_BURST", 20),

		UploadMediaPerIPRPM: envFloat("RATE_LIMIT_UPLOAD_MEDIA_RPM", 12000), UploadMediaPerIPBurst: envFloat("RATE_LIMIT_UPLOAD_MEDIA_BURST", 300),
		UploadMediaAllRPM: envFloat("RATE_LIMIT_UPLOAD_MEDIA_ALL_RPM", 6000), UploadMediaAllBurst: envFloat("RATE_LIMIT_UPLOAD_MEDIA_ALL_BURST", 2000),

		UploadMediaCountPerIPRPM: envFloat("RATE_LIMIT_UPLOAD_MEDIA_COUNT_RPM", 50000), UploadMediaCountPerIPBurst: envFloat("RATE_LIMIT_UPLOAD_MEDIA_COUNT_BURST", 1000),
		UploadMediaCountAllRPM: envFloat("RATE_LIMIT_UPLOAD_MEDIA_COUNT_ALL_RPM", 6000), UploadMediaCountAllBurst: envFloat("RATE_LIMIT_UPLOAD_MEDIA_COUNT_ALL_BURST", 2000),

		MediaGetPerIPRPM: envFloat("RATE_LIMIT_MEDIA_GET_RPM", 2400), MediaGetPerIPBurst: envFloat("RATE_LIMIT_MEDIA_GET_BURST", 60),
		MediaGetAllRPM: envFloat("RATE_LIMIT_MEDIA_GET_ALL_RPM", 600), MediaGetAllBurst: envFloat("RATE_LIMIT_MEDIA_GET_ALL_BURST", 120),

		ClearSessionPerIPRPM: envFloat("RATE_LIMIT_CLEAR_SESSION_RPM", 3000), ClearSessionPerIPBurst: envFloat("RATE_LIMIT_CLEAR_SESSION_BURST", 50),
		ClearSessionAllRPM: envFloat("RATE_LIMIT_CLEAR_SESSION_ALL_RPM", 120), ClearSessionAllBurst: envFloat("RATE_LIMIT_CLEAR_SESSION_ALL_BURST", 20),

		APIGeneralPerIPRPM: envFloat("RATE_LIMIT_API_RPM", 2400), APIGeneralPerIPBurst: envFloat("RATE_LIMIT_API_BURST", 120),
		APIGeneralAllRPM: envFloat("RATE_LIMIT_API_ALL_RPM", 1200), APIGeneralAllBurst: envFloat("RATE_LIMIT_API_ALL_BURST", 200),

		WSConnectPerIPRPM: envFloat("RATE_LIMIT_WS_CONNECT_RPM", 600), WSConnectPerIPBurst: envFloat("RATE_LIMIT_WS_CONNECT_BURST", 50),
		WSConnectAllRPM: envFloat("RATE_LIMIT_WS_CONNECT_ALL_RPM", 60000), WSConnectAllBurst: envFloat("RATE_LIMIT_WS_CONNECT_ALL_BURST", 2000),

		WSChatSendPerIPRPM: envFloat("RATE_LIMIT_WS_CHAT_SEND_RPM", 300), WSChatSendPerIPBurst: envFloat("RATE_LIMIT_WS_CHAT_SEND_BURST", 20),
		WSChatSendAllRPM: envFloat("RATE_LIMIT_WS_CHAT_SEND_ALL_RPM", 500), WSChatSendAllBurst: envFloat("RATE_LIMIT_WS_CHAT_SEND_ALL_BURST", 30),

		MaxWSConnections: envInt64("RATE_LIMIT_WS_MAX_CONNECTIONS", 500),
		MaxChatTurns:     envInt64("RATE_LIMIT_CHAT_MAX_CONCURRENCY", 80),
		MaxUploads:       envInt64("RATE_LIMIT_UPLOAD_MAX_CONCURRENCY", 100),

		ThumbnailTimeout: time.Duration(envInt64("THUMBNAIL_TIMEOUT_SEC", 20)) * time.Second,

		TrustProxyHeaders: envBool("RATE_LIMIT_TRUST_PROXY_HEADERS", false),
	}
}

func envStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(name string, def int64) int64 {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(name string, def float64) float64 {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(name string, def bool) bool {
	if v := os.Getenv(name); v != "" {
		return v == "1" || v == "true"
	}
	return def
}
