package artifact

import (
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadResult(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "sess-1", nil)
	require.NoError(t, err)

	id, err := GenerateArtifactID("search_media")
	require.NoError(t, err)
	require.Contains(t, id, "search_media_")

	payload := map[string]any{"clips": []any{"a", "b"}}
	meta, err := store.SaveResult("search_media", id, "found 2 clips", payload, "")
	require.NoError(t, err)
	require.Equal(t, "sess-1", meta.SessionID)
	require.Equal(t, id, meta.ArtifactID)

	gotMeta, gotPayload, err := store.Load(id)
	require.NoError(t, err)
	require.Equal(t, meta.Path, gotMeta.Path)
	require.NotNil(t, gotPayload)
}

func TestGetLatestMeta(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "sess-2", nil)
	require.NoError(t, err)

	id1, _ := GenerateArtifactID("plan_timeline")
	_, err = store.SaveResult("plan_timeline", id1, "", map[string]any{"n": 1}, "")
	require.NoError(t, err)

	id2, _ := GenerateArtifactID("plan_timeline")
	_, err = store.SaveResult("plan_timeline", id2, "", map[string]any{"n": 2}, "")
	require.NoError(t, err)

	latest, ok, err := store.GetLatestMeta("plan_timeline")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id2, latest.ArtifactID)

	_, ok, err = store.GetLatestMeta("no_such_node")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveResultExtractsBase64Blobs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "sess-3", nil)
	require.NoError(t, err)

	raw := []byte("fake-jpeg-bytes")
	payload := map[string]any{
		"media": []any{
			map[string]any{
				"path":   "thumb.jpg",
				"base64": base64.StdEncoding.EncodeToString(raw),
			},
		},
	}
	id, _ := GenerateArtifactID("load_media")
	meta, err := store.SaveResult("load_media", id, "", payload, "")
	require.NoError(t, err)

	_, gotPayload, err := store.Load(id)
	require.NoError(t, err)
	m := gotPayload.(map[string]any)
	media := m["media"].([]any)
	item := media[0].(map[string]any)
	_, hasBase64 := item["base64"]
	require.False(t, hasBase64)
	require.Equal(t, filepath.Join(dir, "sess-3", "load_media", "thumb.jpg"), item["path"])
	require.NotEmpty(t, meta.Path)
}

func TestSaveResultRoutesMediaDirOverride(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "sess-4", nil)
	require.NoError(t, err)

	mediaDir := filepath.Join(dir, "session-media")
	raw := []byte("fake-clip-bytes")
	payload := map[string]any{
		"media": []any{
			map[string]any{
				"path":   "clip.mp4",
				"base64": base64.StdEncoding.EncodeToString(raw),
			},
		},
	}
	id, _ := GenerateArtifactID("search_media")
	_, err = store.SaveResult("search_media", id, "", payload, mediaDir)
	require.NoError(t, err)

	_, gotPayload, err := store.Load(id)
	require.NoError(t, err)
	m := gotPayload.(map[string]any)
	media := m["media"].([]any)
	item := media[0].(map[string]any)
	require.Equal(t, filepath.Join(mediaDir, "clip.mp4"), item["path"])
}
