// Package session implements durable per-session state: media tables,
// chat history, service config, and the LLM/VLM override-resolution
// chain that decides whether an agent needs rebuilding.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/media"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/upload"
)

// CustomModelKey marks a chat/vlm model selection as "use the
// session-provided custom override", mirroring CUSTOM_MODEL_KEY.
const CustomModelKey = "__custom__"

// MediaMeta is one uploaded or generated media item's durable record.
type MediaMeta struct {
	ID        string
	Name      string
	Kind      media.Kind
	Path      string
	ThumbPath string
	CreatedAt time.Time
}

// ModelOverride is a resolved {model, base_url, api_key, ...} bundle
// ready to hand to an LLM/VLM client constructor.
type ModelOverride struct {
	Model       string
	BaseURL     string
	APIKey      string
	Timeout     *float64
	Temperature *float64
	MaxRetries  *int
	TopP        *float64
	MaxTokens   *int
}

// ServiceConfig is the validated payload of an applyServiceConfig
// call: optional custom LLM/VLM overrides plus TTS/asset-search
// subconfigs, grounded on _parse_service_config.
type ServiceConfig struct {
	CustomLLM  *ModelOverride
	CustomVLM  *ModelOverride
	TTSConfig  map[string]any
	PexelsMode string // "default" | "custom"
	PexelsKey  string
}

// HistoryEntry is one chat-history record (user/assistant/tool
// discriminated by Role), for replay/UI purposes.
type HistoryEntry struct {
	Role       string // "user" | "assistant" | "tool"
	Text       string
	ToolCallID string
	ToolName   string
	Status     string // "running" | "done" | "error"
	Progress   float64
	Summary    any
	IsError    bool
	Timestamp  time.Time
}

// EnvLookup abstracts os.Getenv for testability.
type EnvLookup func(string) string

// ModelConfigLookup resolves a model's config-file sub-table entry
// (always empty in this build — config file parsing is unsupported,
// but the seam exists so a future config loader can be wired in
// without touching resolution logic).
type ModelConfigLookup func(modelName string) map[string]any

// Session holds one chat session's durable state.
type Session struct {
	ID            string
	MediaDir      string
	DeveloperMode bool
	Lang          string

	ChatModelKey string
	VLMModelKey  string

	customLLM *ModelOverride
	customVLM *ModelOverride
	ttsConfig map[string]any

	pexelsMode string
	pexelsKey  string

	chatLock  sync.Mutex
	mediaLock sync.Mutex

	loadMedia       map[string]*MediaMeta
	pendingMediaIDs []string

	History []HistoryEntry
	toolIdx map[string]int // tool_call_id -> History index

	Uploads *upload.Manager
	Store   *media.Store

	attachStatsMsgIdx int

	env           EnvLookup
	modelCfgTable ModelConfigLookup

	// agentBuildKey tracks the (llm,vlm) override pair the last agent
	// was built from — a change forces ensureAgent to rebuild.
	agentBuildKey string
	agentBuilt    bool
}

// New constructs a Session. env defaults to a lookup that always
// returns "", modelCfgTable to one that always misses (model
// configuration is sourced from the environment, not a config file).
func New(id, mediaDir string, uploads *upload.Manager, store *media.Store, env EnvLookup, modelCfgTable ModelConfigLookup) *Session {
	if env == nil {
		env = func(string) string { return "" }
	}
	if modelCfgTable == nil {
		modelCfgTable = func(string) map[string]any { return nil }
	}
	return &Session{
		ID:                id,
		MediaDir:          mediaDir,
		ChatModelKey:      "default",
		VLMModelKey:       "default",
		loadMedia:         make(map[string]*MediaMeta),
		toolIdx:           make(map[string]int),
		Uploads:           uploads,
		Store:             store,
		attachStatsMsgIdx: 1,
		env:               env,
		modelCfgTable:     modelCfgTable,
	}
}

// LockChat/UnlockChat serialize whole turns, independent of mediaLock
// so uploads proceed during streaming.
func (s *Session) LockChat()   { s.chatLock.Lock() }
func (s *Session) UnlockChat() { s.chatLock.Unlock() }

// TryLockChat attempts the chat lock without blocking, for the
// streaming controller's inline-reject precondition.
func (s *Session) TryLockChat() bool { return s.chatLock.TryLock() }

func (s *Session) LockMedia()   { s.mediaLock.Lock() }
func (s *Session) UnlockMedia() { s.mediaLock.Unlock() }

// AddMedia registers a newly-saved media item and marks it pending,
// under the media lock.
func (s *Session) AddMedia(meta MediaMeta) {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()
	m := meta
	s.loadMedia[meta.ID] = &m
	s.pendingMediaIDs = append(s.pendingMediaIDs, meta.ID)
}

// TakePendingMediaForMessage atomically drains the given ids (or all
// pending ids, if nil) from the pending set, keeping the full media
// table intact, and returns their resolved metas.
func (s *Session) TakePendingMediaForMessage(ids []string) []MediaMeta {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()

	var want map[string]bool
	if ids != nil {
		want = make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
	}

	var taken []MediaMeta
	var remaining []string
	for _, id := range s.pendingMediaIDs {
		if want == nil || want[id] {
			if meta, ok := s.loadMedia[id]; ok {
				taken = append(taken, *meta)
			}
			continue
		}
		remaining = append(remaining, id)
	}
	s.pendingMediaIDs = remaining
	return taken
}

// PendingMedia returns a snapshot of the currently pending media.
func (s *Session) PendingMedia() []MediaMeta {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()
	out := make([]MediaMeta, 0, len(s.pendingMediaIDs))
	for _, id := range s.pendingMediaIDs {
		if meta, ok := s.loadMedia[id]; ok {
			out = append(out, *meta)
		}
	}
	return out
}

// DeletePendingMedia physically deletes a media item, but only while
// it is still pending.
func (s *Session) DeletePendingMedia(mediaID string) error {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()

	idx := -1
	for i, id := range s.pendingMediaIDs {
		if id == mediaID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("session: media %q is not pending", mediaID)
	}
	meta, ok := s.loadMedia[mediaID]
	if !ok {
		return fmt.Errorf("session: media %q not found", mediaID)
	}
	if s.Store != nil {
		if err := s.Store.DeleteFiles(s.MediaDir, meta.Path, meta.ThumbPath); err != nil {
			return err
		}
	}
	delete(s.loadMedia, mediaID)
	s.pendingMediaIDs = append(s.pendingMediaIDs[:idx], s.pendingMediaIDs[idx+1:]...)
	return nil
}

// MediaCount/PendingCount feed the cap-enforcement and snapshot views.
func (s *Session) MediaCount() int {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()
	return len(s.loadMedia)
}

func (s *Session) PendingCount() int {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()
	return len(s.pendingMediaIDs)
}

// GetMedia looks up a media item by id.
func (s *Session) GetMedia(mediaID string) (MediaMeta, bool) {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()
	m, ok := s.loadMedia[mediaID]
	if !ok {
		return MediaMeta{}, false
	}
	return *m, true
}

// ApplyServiceConfig validates and applies a ServiceConfig payload.
// Partial updates are permitted: nil fields leave existing config
// untouched, per applyServiceConfig's semantics.
func (s *Session) ApplyServiceConfig(cfg ServiceConfig) error {
	if cfg.CustomLLM != nil {
		if err := validateCustomModel(*cfg.CustomLLM, "LLM"); err != nil {
			return err
		}
		s.customLLM = cfg.CustomLLM
	}
	if cfg.CustomVLM != nil {
		if err := validateCustomModel(*cfg.CustomVLM, "VLM"); err != nil {
			return err
		}
		s.customVLM = cfg.CustomVLM
	}
	if len(cfg.TTSConfig) > 0 {
		s.ttsConfig = cfg.TTSConfig
	}
	if cfg.PexelsMode != "" {
		if cfg.PexelsMode == "custom" {
			s.pexelsMode = "custom"
			s.pexelsKey = cfg.PexelsKey
		} else {
			s.pexelsMode = "default"
			s.pexelsKey = ""
		}
	}
	return nil
}

func validateCustomModel(m ModelOverride, label string) error {
	if m.Model == "" || m.BaseURL == "" || m.APIKey == "" {
		return fmt.Errorf("incomplete custom %s config: model/base_url/api_key are all required", label)
	}
	if !strings.HasPrefix(m.BaseURL, "http://") && !strings.HasPrefix(m.BaseURL, "https://") {
		return fmt.Errorf("custom %s base_url must start with http(s)", label)
	}
	return nil
}

// TTSConfig/PexelsAPIKey return the resolved runtime values the
// pipeline's auxiliary interceptors need.
func (s *Session) TTSConfig() map[string]any { return s.ttsConfig }

func (s *Session) PexelsAPIKey(defaultKeyLookup func() string) string {
	if strings.ToLower(s.pexelsMode) == "custom" {
		return s.pexelsKey
	}
	if defaultKeyLookup != nil {
		return defaultKeyLookup()
	}
	return ""
}
