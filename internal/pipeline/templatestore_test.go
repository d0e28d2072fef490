package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplateStoreListIncludesPresetsAndUserTemplates(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTemplateStore(dir)
	require.NoError(t, err)

	created, err := ts.Create(EditTemplate{Name: "My Edit", AutoMode: AutoModeFull})
	require.NoError(t, err)
	require.NotEmpty(t, created.TemplateID)
	require.False(t, created.IsPreset)

	all, err := ts.List()
	require.NoError(t, err)
	require.Len(t, all, len(PresetTemplates())+1)
}

func TestTemplateStoreGetFindsPresetWithoutTouchingDisk(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTemplateStore(dir)
	require.NoError(t, err)

	tmpl, ok, err := ts.Get("preset_quick_cut")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, tmpl.IsPreset)
}

func TestTemplateStoreUpdateRejectsPreset(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTemplateStore(dir)
	require.NoError(t, err)

	_, err = ts.Update("preset_quick_cut", EditTemplate{Name: "hacked"})
	require.ErrorIs(t, err, ErrPresetImmutable)
}

func TestTemplateStoreUpdatePreservesCreatedAt(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTemplateStore(dir)
	require.NoError(t, err)

	created, err := ts.Create(EditTemplate{Name: "Draft"})
	require.NoError(t, err)

	updated, err := ts.Update(created.TemplateID, EditTemplate{Name: "Final"})
	require.NoError(t, err)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)
	require.Equal(t, "Final", updated.Name)
	require.GreaterOrEqual(t, updated.UpdatedAt, created.UpdatedAt)
}

func TestTemplateStoreDeleteRejectsPresetAndMissing(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTemplateStore(dir)
	require.NoError(t, err)

	require.ErrorIs(t, ts.Delete("preset_travel_vlog"), ErrPresetImmutable)
	require.ErrorIs(t, ts.Delete("no-such-id"), ErrTemplateNotFound)

	created, err := ts.Create(EditTemplate{Name: "Temp"})
	require.NoError(t, err)
	require.NoError(t, ts.Delete(created.TemplateID))

	_, ok, err := ts.Get(created.TemplateID)
	require.NoError(t, err)
	require.False(t, ok)
}
