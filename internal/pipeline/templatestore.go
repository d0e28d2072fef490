package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrPresetImmutable is returned when a caller tries to update or
// delete one of the built-in preset templates.
var ErrPresetImmutable = fmt.Errorf("pipeline: preset templates cannot be modified or deleted")

// ErrTemplateNotFound is returned by Update/Delete for an unknown
// (non-preset) template id; Get reports a miss through its bool result.
var ErrTemplateNotFound = fmt.Errorf("pipeline: template not found")

// templateClock abstracts time.Now for deterministic tests.
var templateClock = time.Now

// TemplateStore persists user-created EditTemplates as one JSON file
// per template under a root directory, alongside the fixed in-memory
// preset templates (which it never writes to disk).
type TemplateStore struct {
	dir string
	mu  sync.Mutex
}

// NewTemplateStore opens (creating if needed) a template store rooted
// at dir.
func NewTemplateStore(dir string) (*TemplateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: mkdir %s: %w", dir, err)
	}
	return &TemplateStore{dir: dir}, nil
}

func (ts *TemplateStore) path(id string) string {
	return filepath.Join(ts.dir, id+".json")
}

// List returns every preset template, in its fixed built-in order,
// followed by every user-created template sorted by template id.
func (ts *TemplateStore) List() ([]EditTemplate, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entries, err := os.ReadDir(ts.dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: readdir %s: %w", ts.dir, err)
	}
	var user []EditTemplate
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		t, err := ts.readFile(filepath.Join(ts.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		user = append(user, t)
	}
	sort.Slice(user, func(i, j int) bool { return user[i].TemplateID < user[j].TemplateID })

	out := append(PresetTemplates(), user...)
	return out, nil
}

// Get looks up one template by id, checking presets first.
func (ts *TemplateStore) Get(id string) (EditTemplate, bool, error) {
	for _, p := range PresetTemplates() {
		if p.TemplateID == id {
			return p, true, nil
		}
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, err := ts.readFile(ts.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return EditTemplate{}, false, nil
		}
		return EditTemplate{}, false, err
	}
	return t, true, nil
}

// Create stores a new user template, minting a template id if t's is
// empty and stamping created/updated timestamps.
func (ts *TemplateStore) Create(t EditTemplate) (EditTemplate, error) {
	if t.TemplateID == "" {
		id, err := NewTemplateID()
		if err != nil {
			return EditTemplate{}, err
		}
		t.TemplateID = id
	}
	t.IsPreset = false
	now := float64(templateClock().UnixNano()) / 1e9
	t.CreatedAt = now
	t.UpdatedAt = now

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if err := ts.writeFile(t); err != nil {
		return EditTemplate{}, err
	}
	return t, nil
}

// Update replaces an existing user template's content, preserving its
// id and created_at. Presets and unknown ids are rejected.
func (ts *TemplateStore) Update(id string, t EditTemplate) (EditTemplate, error) {
	if isPresetID(id) {
		return EditTemplate{}, ErrPresetImmutable
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	existing, err := ts.readFile(ts.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return EditTemplate{}, ErrTemplateNotFound
		}
		return EditTemplate{}, err
	}

	t.TemplateID = id
	t.IsPreset = false
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = float64(templateClock().UnixNano()) / 1e9
	if err := ts.writeFile(t); err != nil {
		return EditTemplate{}, err
	}
	return t, nil
}

// Delete removes a user template. Presets are rejected; a missing id
// is reported as ErrTemplateNotFound.
func (ts *TemplateStore) Delete(id string) error {
	if isPresetID(id) {
		return ErrPresetImmutable
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if err := os.Remove(ts.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("pipeline: delete template %s: %w", id, err)
	}
	return nil
}

func isPresetID(id string) bool {
	for _, p := range PresetTemplates() {
		if p.TemplateID == id {
			return true
		}
	}
	return false
}

func (ts *TemplateStore) readFile(path string) (EditTemplate, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return EditTemplate{}, err
	}
	var t EditTemplate
	if err := json.Unmarshal(buf, &t); err != nil {
		return EditTemplate{}, fmt.Errorf("pipeline: unmarshal template %s: %w", path, err)
	}
	return t, nil
}

func (ts *TemplateStore) writeFile(t EditTemplate) error {
	buf, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal template %s: %w", t.TemplateID, err)
	}
	if err := os.WriteFile(ts.path(t.TemplateID), buf, 0o644); err != nil {
		return fmt.Errorf("pipeline: write template %s: %w", t.TemplateID, err)
	}
	return nil
}
