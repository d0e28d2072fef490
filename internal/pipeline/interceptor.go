package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/artifact"
)

// maxDependencyDepth caps the dependency injector's recursive
// predecessor execution, bounding the resolution chain so a cyclic
// dependency graph fails fast instead of recursing forever.
const maxDependencyDepth = 10

// ErrToolException reports that every candidate producer for a
// missing dependency kind failed.
type ErrToolException struct {
	NodeID string
	Detail string
}

func (e *ErrToolException) Error() string {
	return fmt.Sprintf("tool exception in %q: %s", e.NodeID, e.Detail)
}

// RuntimeContext carries the per-session values the interceptor chain
// needs: the session's media directory (for load_media's inlining
// step), language, and the auxiliary config the TTS/asset-search
// interceptors inject. The artifact store itself is held by Chain.
type RuntimeContext struct {
	SessionID    string
	MediaDir     string
	Lang         string
	TTSConfig    map[string]any
	PexelsAPIKey string
}

// Chain is the ordered interceptor pipeline wrapping every node
// execution: dependency injection, then the node itself, then result
// persistence, with the TTS/pexels auxiliary interceptors folded into
// the before-hook since they only rewrite args.
type Chain struct {
	nm    *NodeManager
	store *artifact.Store
	log   *slog.Logger
}

// NewChain builds the interceptor chain for one session.
func NewChain(nm *NodeManager, store *artifact.Store, log *slog.Logger) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{nm: nm, store: store, log: log}
}

// Invoke runs node id through the full chain: dependency resolution,
// TTS/pexels arg injection, execution, and result persistence. mode is
// "auto", "skip", or "default" as set by the caller (pipeline
// executor); Invoke itself never skips — callers decide that before
// calling.
func (c *Chain) Invoke(ctx context.Context, rt *RuntimeContext, nodeID, mode string, params map[string]any) (ToolResult, error) {
	return c.invokeDepth(ctx, rt, nodeID, mode, params, 0)
}

func (c *Chain) invokeDepth(ctx context.Context, rt *RuntimeContext, nodeID, mode string, params map[string]any, depth int) (ToolResult, error) {
	artifactID, err := artifact.GenerateArtifactID(nodeID)
	if err != nil {
		return ToolResult{}, err
	}

	args, err := c.injectDependencies(ctx, rt, nodeID, mode, params, depth)
	if err != nil {
		return ToolResult{}, err
	}
	args["artifact_id"] = artifactID
	args["lang"] = rt.Lang
	args["mode"] = mode
	injectAuxiliary(nodeID, args, rt)

	tool, ok := c.nm.GetTool(nodeID)
	if !ok {
		return ToolResult{}, &ErrToolException{NodeID: nodeID, Detail: "tool not registered"}
	}
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return ToolResult{}, fmt.Errorf("node %q execution failed: %w", nodeID, err)
	}
	result.ArtifactID = artifactID

	if !result.IsError {
		if err := c.persistResult(rt, nodeID, artifactID, result); err != nil {
			c.log.Error("persist artifact failed", "node_id", nodeID, "err", err)
		}
	}
	return result, nil
}

// injectDependencies resolves a node's required inputs: a media-ingest
// special case for load_media, then kind-based resolution for every
// other node, recursively executing missing producers.
func (c *Chain) injectDependencies(ctx context.Context, rt *RuntimeContext, nodeID, mode string, params map[string]any, depth int) (map[string]any, error) {
	args := make(map[string]any, len(params)+2)
	for k, v := range params {
		args[k] = v
	}

	if nodeID == "load_media" {
		inputs, err := c.inlineMediaDirectory(rt.MediaDir)
		if err != nil {
			return nil, err
		}
		args["inputs"] = inputs
		return args, nil
	}

	spec, ok := SpecByID(nodeID)
	if !ok {
		args["artifacts_dir"] = filepath.Join(rt.MediaDir, "..", "artifacts")
		return args, nil
	}

	required := RequiredKinds(spec, mode)
	collected, missing := c.collectAvailable(rt, required)
	if len(missing) > 0 {
		if depth > maxDependencyDepth {
			return nil, &ErrToolException{NodeID: nodeID, Detail: "dependency recursion too deep"}
		}
		if err := c.resolveMissing(ctx, rt, missing, nodeID, depth); err != nil {
			return nil, err
		}
		collected, missing = c.collectAvailable(rt, required)
		if len(missing) > 0 {
			return nil, &ErrToolException{NodeID: nodeID, Detail: fmt.Sprintf("unresolved kinds: %v", missing)}
		}
	}
	for kind, payload := range collected {
		args[string(kind)] = payload
	}
	return args, nil
}

// collectAvailable looks up the latest artifact for each required
// kind's producing node(s), returning payloads for the ones found and
// the kinds still missing.
func (c *Chain) collectAvailable(rt *RuntimeContext, required []Kind) (map[Kind]any, []Kind) {
	collected := make(map[Kind]any)
	var missing []Kind
	for _, kind := range required {
		found := false
		for _, candidateID := range CandidatesForKind(kind) {
			meta, ok, err := c.store.GetLatestMeta(candidateID)
			if err != nil || !ok {
				continue
			}
			_, payload, err := c.store.Load(meta.ArtifactID)
			if err != nil {
				continue
			}
			collected[kind] = payload
			found = true
			break
		}
		if !found {
			missing = append(missing, kind)
		}
	}
	return collected, missing
}

// resolveMissing recursively executes a candidate producer (in
// default mode) for each missing kind, falling through candidates in
// registry order on failure.
func (c *Chain) resolveMissing(ctx context.Context, rt *RuntimeContext, missing []Kind, forNodeID string, depth int) error {
	for _, kind := range missing {
		candidates := CandidatesForKind(kind)
		succeeded := false
		var lastErr error
		for _, candidateID := range candidates {
			_, err := c.invokeDepth(ctx, rt, candidateID, "default", map[string]any{}, depth+1)
			if err == nil {
				succeeded = true
				break
			}
			c.log.Warn("dependency candidate failed", "candidate", candidateID, "kind", kind, "for_node", forNodeID, "err", err)
			lastErr = err
		}
		if !succeeded {
			return &ErrToolException{NodeID: forNodeID, Detail: fmt.Sprintf("cannot satisfy dependency %q: %v", kind, lastErr)}
		}
	}
	return nil
}

// inlineMediaDirectory reads every file under mediaDir (skipping
// subdirectories like .thumbs/.uploads) and inlines a base64 blob for
// each, feeding load_media's "here is the whole session's media"
// argument.
func (c *Chain) inlineMediaDirectory(mediaDir string) ([]map[string]any, error) {
	entries, err := os.ReadDir(mediaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []map[string]any{}, nil
		}
		return nil, fmt.Errorf("pipeline: read media dir %s: %w", mediaDir, err)
	}
	inputs := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(mediaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
		}
		inputs = append(inputs, map[string]any{
			"path":   path,
			"base64": base64.StdEncoding.EncodeToString(data),
		})
	}
	return inputs, nil
}

// persistResult stores a successful node result via the artifact
// store. search_media's blobs land directly in the session media
// directory so they're visible to load_media; every other node's land
// under its own artifact subdirectory.
func (c *Chain) persistResult(rt *RuntimeContext, nodeID, artifactID string, result ToolResult) error {
	mediaDir := ""
	if nodeID == "search_media" {
		mediaDir = rt.MediaDir
	}
	_, err := c.store.SaveResult(nodeID, artifactID, result.Summary, result.ToolExecuteResult, mediaDir)
	return err
}

// injectAuxiliary folds in the TTS and asset-search auxiliary
// configuration for nodes whose id names the concern, by substring
// match on the node id.
func injectAuxiliary(nodeID string, args map[string]any, rt *RuntimeContext) {
	if strings.Contains(strings.ToLower(nodeID), "voiceover") && rt.TTSConfig != nil {
		provider, _ := rt.TTSConfig["provider"].(string)
		if provider == "" {
			provider = "indextts"
		}
		setDefault(args, "provider", provider)
		if voiceIndex, ok := rt.TTSConfig["voice_index"].(string); ok && voiceIndex != "" {
			setDefault(args, "voice_index", voiceIndex)
		}
		if sub, ok := rt.TTSConfig[provider].(map[string]any); ok {
			for k, v := range sub {
				if v == nil {
					continue
				}
				setDefault(args, k, v)
			}
		}
	}
	if strings.Contains(strings.ToLower(nodeID), "search_media") && rt.PexelsAPIKey != "" {
		args["pexels_api_key"] = rt.PexelsAPIKey
	}
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}
