// Package artifact implements an append-only per-session artifact
// store: node outputs are persisted as JSON envelopes with any
// embedded base64 blobs peeled out to sibling files, indexed by an
// append-only meta.json so later nodes can look up a predecessor's
// latest result by node id.
package artifact

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Meta is the durable index record for one artifact.
type Meta struct {
	SessionID  string  `json:"session_id"`
	ArtifactID string  `json:"artifact_id"`
	NodeID     string  `json:"node_id"`
	Path       string  `json:"path"`
	Summary    string  `json:"summary,omitempty"`
	CreatedAt  float64 `json:"created_at"`
}

// envelope is the on-disk shape of an artifact's payload file.
type envelope struct {
	Payload    any     `json:"payload"`
	SessionID  string  `json:"session_id"`
	ArtifactID string  `json:"artifact_id"`
	NodeID     string  `json:"node_id"`
	CreatedAt  float64 `json:"create_time"`
}

// Store manages one session's artifact directory tree:
//
//	<artifactsDir>/<sessionId>/meta.json
//	<artifactsDir>/<sessionId>/<nodeId>/<artifactId>.json
//	<artifactsDir>/<sessionId>/<nodeId>/<blob paths rewritten out of base64>
type Store struct {
	artifactsDir string
	sessionID    string
	blobsDir     string
	metaPath     string
	log          *slog.Logger

	mu sync.Mutex // serializes meta.json read-modify-write
}

// clock abstracts time.Now for deterministic tests.
var clock = time.Now

// NewStore creates (or reopens) the artifact store for a session,
// ensuring the blob directory and an empty meta.json exist.
func NewStore(artifactsDir, sessionID string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	blobsDir := filepath.Join(artifactsDir, sessionID)
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: mkdir %s: %w", blobsDir, err)
	}
	s := &Store{
		artifactsDir: artifactsDir,
		sessionID:    sessionID,
		blobsDir:     blobsDir,
		metaPath:     filepath.Join(blobsDir, "meta.json"),
		log:          log,
	}
	info, err := os.Stat(s.metaPath)
	if err != nil || info.Size() == 0 {
		if err := s.saveMetaList(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GenerateArtifactID mints a "<nodeId>_<8-hex>" identifier.
func GenerateArtifactID(nodeID string) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("artifact: generate id: %w", err)
	}
	return fmt.Sprintf("%s_%s", nodeID, hex.EncodeToString(buf)), nil
}

// SaveResult persists a node's tool-execution payload as a JSON
// envelope, rewriting any embedded base64 blobs to files under the
// node's blob directory, then appends an index entry and returns it.
// When mediaDir is non-empty, blobs are rewritten into mediaDir instead
// of the node's own blob directory — the caller uses this for nodes
// whose output is session media rather than a pipeline artifact.
func (s *Store) SaveResult(nodeID, artifactID, summary string, payload any, mediaDir string) (Meta, error) {
	createdAt := float64(clock().UnixNano()) / 1e9
	storeDir := filepath.Join(s.blobsDir, nodeID)
	if mediaDir != "" {
		storeDir = mediaDir
	}
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return Meta{}, fmt.Errorf("artifact: mkdir %s: %w", storeDir, err)
	}

	rewritten, err := extractBlobs(payload, storeDir, artifactID, s.log)
	if err != nil {
		return Meta{}, err
	}

	filePath := filepath.Join(storeDir, artifactID+".json")
	env := envelope{
		Payload:    rewritten,
		SessionID:  s.sessionID,
		ArtifactID: artifactID,
		NodeID:     nodeID,
		CreatedAt:  createdAt,
	}
	buf, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("artifact: marshal %s: %w", artifactID, err)
	}
	if err := os.WriteFile(filePath, buf, 0o644); err != nil {
		return Meta{}, fmt.Errorf("artifact: write %s: %w", filePath, err)
	}
	s.log.Info("saved artifact", "node_id", nodeID, "artifact_id", artifactID, "path", filePath)

	meta := Meta{
		SessionID:  s.sessionID,
		ArtifactID: artifactID,
		NodeID:     nodeID,
		Path:       filePath,
		Summary:    summary,
		CreatedAt:  createdAt,
	}
	if err := s.appendMeta(meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Load returns an artifact's index entry plus its raw payload.
func (s *Store) Load(artifactID string) (Meta, any, error) {
	metas, err := s.loadMetaList()
	if err != nil {
		return Meta{}, nil, err
	}
	for _, m := range metas {
		if m.ArtifactID == artifactID {
			buf, err := os.ReadFile(m.Path)
			if err != nil {
				return Meta{}, nil, fmt.Errorf("artifact: read %s: %w", m.Path, err)
			}
			var env envelope
			if err := json.Unmarshal(buf, &env); err != nil {
				return Meta{}, nil, fmt.Errorf("artifact: unmarshal %s: %w", m.Path, err)
			}
			return m, env.Payload, nil
		}
	}
	return Meta{}, nil, fmt.Errorf("artifact: %q not found", artifactID)
}

// GetLatestMeta returns the most recently created artifact for nodeID
// in this session, or false if none exists — the lookup pipeline nodes
// use to fetch a predecessor's output.
func (s *Store) GetLatestMeta(nodeID string) (Meta, bool, error) {
	metas, err := s.loadMetaList()
	if err != nil {
		return Meta{}, false, err
	}
	var best Meta
	found := false
	for _, m := range metas {
		if m.NodeID != nodeID {
			continue
		}
		if !found || m.CreatedAt > best.CreatedAt {
			best = m
			found = true
		}
	}
	return best, found, nil
}

func (s *Store) loadMetaList() ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := os.ReadFile(s.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("artifact: read %s: %w", s.metaPath, err)
	}
	if len(buf) == 0 {
		return nil, nil
	}
	var metas []Meta
	if err := json.Unmarshal(buf, &metas); err != nil {
		return nil, fmt.Errorf("artifact: unmarshal %s: %w", s.metaPath, err)
	}
	return metas, nil
}

func (s *Store) saveMetaList(metas []Meta) error {
	if metas == nil {
		metas = []Meta{}
	}
	buf, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath, buf, 0o644); err != nil {
		return fmt.Errorf("artifact: write %s: %w", s.metaPath, err)
	}
	return nil
}

func (s *Store) appendMeta(meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := os.ReadFile(s.metaPath)
	var metas []Meta
	if err == nil && len(buf) > 0 {
		if err := json.Unmarshal(buf, &metas); err != nil {
			return fmt.Errorf("artifact: unmarshal %s: %w", s.metaPath, err)
		}
	}
	metas = append(metas, meta)
	out, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal meta: %w", err)
	}
	return os.WriteFile(s.metaPath, out, 0o644)
}

// extractBlobs walks payload looking for lists of maps carrying a
// "base64" key (the shape tool results use to return generated media),
// decodes each one to a file under storeDir, and rewrites its "path"
// field to the written path.
func extractBlobs(payload any, storeDir, artifactID string, log *slog.Logger) (any, error) {
	switch v := payload.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if items, ok := asMediaList(val); ok {
				rewritten, err := saveMediaList(items, storeDir, artifactID, log)
				if err != nil {
					return nil, err
				}
				out[k] = rewritten
				continue
			}
			rewritten, err := extractBlobs(val, storeDir, artifactID, log)
			if err != nil {
				return nil, err
			}
			out[k] = rewritten
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			rewritten, err := extractBlobs(val, storeDir, artifactID, log)
			if err != nil {
				return nil, err
			}
			out[i] = rewritten
		}
		return out, nil
	default:
		return v, nil
	}
}

// asMediaList reports whether v is a []any of map[string]any — the
// shape that may carry base64-encoded media items.
func asMediaList(v any) ([]map[string]any, bool) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

func saveMediaList(items []map[string]any, storeDir, artifactID string, log *slog.Logger) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		copied := make(map[string]any, len(item))
		for k, v := range item {
			copied[k] = v
		}
		b64, ok := copied["base64"]
		if !ok {
			out = append(out, copied)
			continue
		}
		delete(copied, "base64")
		s, ok := b64.(string)
		if !ok || s == "" {
			out = append(out, copied)
			continue
		}
		relPath, _ := copied["path"].(string)
		if relPath == "" {
			relPath = artifactID + ".bin"
		}
		filePath := filepath.Join(storeDir, filepath.Base(relPath))
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("artifact: decode blob for %s: %w", artifactID, err)
		}
		if err := os.WriteFile(filePath, data, 0o644); err != nil {
			return nil, fmt.Errorf("artifact: write blob %s: %w", filePath, err)
		}
		log.Info("saved media blob", "artifact_id", artifactID, "path", filePath)
		copied["path"] = filePath
		out = append(out, copied)
	}
	return out, nil
}
