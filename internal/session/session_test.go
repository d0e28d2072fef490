package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *Session {
	return New("sess-1", "/tmp/media", nil, nil, nil, nil)
}

func TestTakePendingMediaForMessageDrainsOnlyRequested(t *testing.T) {
	s := newTestSession()
	s.AddMedia(MediaMeta{ID: "m1", Name: "a.jpg"})
	s.AddMedia(MediaMeta{ID: "m2", Name: "b.jpg"})
	s.AddMedia(MediaMeta{ID: "m3", Name: "c.jpg"})

	taken := s.TakePendingMediaForMessage([]string{"m2"})
	require.Len(t, taken, 1)
	assert.Equal(t, "m2", taken[0].ID)

	remaining := s.PendingMedia()
	require.Len(t, remaining, 2)
	assert.Equal(t, "m1", remaining[0].ID)
	assert.Equal(t, "m3", remaining[1].ID)

	// load_media itself must still carry all three.
	assert.Equal(t, 3, s.MediaCount())
}

func TestTakePendingMediaForMessageNilTakesAll(t *testing.T) {
	s := newTestSession()
	s.AddMedia(MediaMeta{ID: "m1"})
	s.AddMedia(MediaMeta{ID: "m2"})

	taken := s.TakePendingMediaForMessage(nil)
	require.Len(t, taken, 2)
	assert.Empty(t, s.PendingMedia())
	assert.Equal(t, 2, s.MediaCount())
}

func TestApplyToolEventLifecycle(t *testing.T) {
	s := newTestSession()

	entry := s.ApplyToolEvent(ToolEvent{Kind: ToolEventStart, ToolCallID: "call-1", ToolName: "filter_clips"})
	assert.Equal(t, "running", entry.Status)
	assert.Equal(t, "filter_clips", entry.ToolName)

	entry = s.ApplyToolEvent(ToolEvent{Kind: ToolEventProgress, ToolCallID: "call-1", Progress: 50, Total: 100})
	assert.Equal(t, "running", entry.Status)
	assert.InDelta(t, 0.5, entry.Progress, 1e-9)

	entry = s.ApplyToolEvent(ToolEvent{Kind: ToolEventEnd, ToolCallID: "call-1", Summary: "done"})
	assert.Equal(t, "done", entry.Status)
	assert.False(t, entry.IsError)
	assert.Equal(t, float64(1), entry.Progress)

	require.Len(t, s.History, 1)
}

func TestApplyToolEventErrorEnd(t *testing.T) {
	s := newTestSession()
	s.ApplyToolEvent(ToolEvent{Kind: ToolEventStart, ToolCallID: "call-2"})
	entry := s.ApplyToolEvent(ToolEvent{Kind: ToolEventEnd, ToolCallID: "call-2", IsError: true, Summary: map[string]any{"msg": "boom"}})
	assert.Equal(t, "error", entry.Status)
	assert.True(t, entry.IsError)
}

func TestNormalizeProgress(t *testing.T) {
	assert.InDelta(t, 0.25, normalizeProgress(1, 4), 1e-9)
	assert.InDelta(t, 0.5, normalizeProgress(50, 0), 1e-9)
	assert.InDelta(t, 0.3, normalizeProgress(0.3, 0), 1e-9)
	assert.Equal(t, float64(0), normalizeProgress(-5, 0))
	assert.Equal(t, float64(1), normalizeProgress(500, 0))
}

func TestMarkRunningToolsCancelled(t *testing.T) {
	s := newTestSession()
	s.ApplyToolEvent(ToolEvent{Kind: ToolEventStart, ToolCallID: "call-a"})
	s.ApplyToolEvent(ToolEvent{Kind: ToolEventStart, ToolCallID: "call-b"})
	s.ApplyToolEvent(ToolEvent{Kind: ToolEventEnd, ToolCallID: "call-b"})

	cancelled := s.MarkRunningToolsCancelled()
	require.Len(t, cancelled, 1)
	assert.Equal(t, "call-a", cancelled[0])

	entry, ok := s.toolIdx["call-a"]
	require.True(t, ok)
	assert.Equal(t, "error", s.History[entry].Status)
	assert.Equal(t, map[string]any{"cancelled": true}, s.History[entry].Summary)
}

func TestClearHistoryPreservesMediaAndUploads(t *testing.T) {
	s := newTestSession()
	s.AddMedia(MediaMeta{ID: "m1"})
	s.AppendUserText("hi")
	s.AppendAssistantText("hello")

	s.ClearHistory()
	assert.Empty(t, s.History)
	assert.Equal(t, 1, s.MediaCount())
}

func TestApplyServiceConfigValidatesCustomModels(t *testing.T) {
	s := newTestSession()

	err := s.ApplyServiceConfig(ServiceConfig{CustomLLM: &ModelOverride{Model: "x"}})
	require.Error(t, err)

	err = s.ApplyServiceConfig(ServiceConfig{CustomLLM: &ModelOverride{Model: "x", BaseURL: "ftp://bad", APIKey: "k"}})
	require.Error(t, err)

	err = s.ApplyServiceConfig(ServiceConfig{CustomLLM: &ModelOverride{Model: "x", BaseURL: "https://good", APIKey: "k"}})
	require.NoError(t, err)
	assert.Equal(t, "x", s.customLLM.Model)
}

func TestApplyServiceConfigPexelsModes(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.ApplyServiceConfig(ServiceConfig{PexelsMode: "custom", PexelsKey: "abc"}))
	assert.Equal(t, "abc", s.PexelsAPIKey(func() string { return "default-key" }))

	require.NoError(t, s.ApplyServiceConfig(ServiceConfig{PexelsMode: "default"}))
	assert.Equal(t, "default-key", s.PexelsAPIKey(func() string { return "default-key" }))
}

func TestEnsureAgentRebuildsOnlyWhenOverridesChange(t *testing.T) {
	env := func(k string) string {
		switch k {
		case "DEEPSEEK_API_URL":
			return "https://api.deepseek.com"
		case "DEEPSEEK_API_KEY":
			return "secret"
		default:
			return ""
		}
	}
	s := New("sess-2", "/tmp/media", nil, nil, env, nil)
	s.ChatModelKey = "deepseek-chat"
	s.VLMModelKey = "deepseek-chat"

	_, _, rebuilt, err := s.EnsureAgent()
	require.NoError(t, err)
	assert.True(t, rebuilt)

	_, _, rebuilt, err = s.EnsureAgent()
	require.NoError(t, err)
	assert.False(t, rebuilt)

	require.NoError(t, s.ApplyServiceConfig(ServiceConfig{CustomLLM: &ModelOverride{Model: "m", BaseURL: "https://x", APIKey: "k"}}))
	s.ChatModelKey = CustomModelKey
	_, _, rebuilt, err = s.EnsureAgent()
	require.NoError(t, err)
	assert.True(t, rebuilt)
}

func TestEnsureAgentErrorsWithoutCustomOverride(t *testing.T) {
	s := newTestSession()
	s.ChatModelKey = CustomModelKey
	_, _, _, err := s.EnsureAgent()
	require.Error(t, err)
}

func TestDeletePendingMediaRejectsNonPending(t *testing.T) {
	s := newTestSession()
	s.AddMedia(MediaMeta{ID: "m1"})
	s.TakePendingMediaForMessage([]string{"m1"})

	err := s.DeletePendingMedia("m1")
	require.Error(t, err)
}

func TestRefreshMediaStats(t *testing.T) {
	s := newTestSession()
	s.AddMedia(MediaMeta{ID: "m1"})
	msg := s.RefreshMediaStats(2, 5)
	assert.Contains(t, msg, "attached_this_turn=2")
	assert.Contains(t, msg, "total_sent_this_session=5")
	assert.Contains(t, msg, "total_in_library=1")
}
