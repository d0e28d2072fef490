package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/artifact"
)

func newTestChain(t *testing.T, tools ...Tool) *Chain {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), "sess-exec", nil)
	require.NoError(t, err)
	nm := NewNodeManager(tools...)
	return NewChain(nm, store, nil)
}

func stubTool(name string) Tool {
	return ToolFunc{NodeName: name, Fn: func(ctx context.Context, args map[string]any) (ToolResult, error) {
		return ToolResult{Summary: name + " ok", ToolExecuteResult: map[string]any{"node": name}}, nil
	}}
}

func TestBuildExecutionPlanFillsDefaults(t *testing.T) {
	tmpl := EditTemplate{
		AutoMode: AutoModeFull,
		Nodes: []NodeConfig{
			{NodeID: "filter_clips", Mode: ModeAuto},
		},
	}
	plan := buildExecutionPlan(tmpl)
	require.Len(t, plan, len(DefaultPipelineOrder))

	byID := map[string]NodeConfig{}
	for _, nc := range plan {
		byID[nc.NodeID] = nc
	}
	require.Equal(t, ModeAuto, byID["load_media"].Mode)
	require.Equal(t, ModeAuto, byID["plan_timeline"].Mode)
	require.Equal(t, ModeAuto, byID["render_video"].Mode)
	require.Equal(t, ModeAuto, byID["filter_clips"].Mode)
	require.Equal(t, ModeSkip, byID["generate_script"].Mode)
}

func TestExecutorRunsQuickCutToCompletion(t *testing.T) {
	tools := make([]Tool, 0, len(DefaultPipelineOrder))
	for _, id := range DefaultPipelineOrder {
		tools = append(tools, stubTool(id))
	}
	chain := newTestChain(t, tools...)
	ex := NewExecutor(chain)

	rt := &RuntimeContext{SessionID: "sess-exec", MediaDir: t.TempDir(), Lang: "en"}

	var events []Status
	onProgress := func(nodeID string, status Status, progress float64, message string) {
		events = append(events, status)
	}

	result := ex.Run(context.Background(), rt, PresetQuickCut(), onProgress, nil, func() bool { return false })
	require.Equal(t, "done", result.Status)
	require.Equal(t, "skipped", result.Results["understand_clips"].Status)
	require.Equal(t, "done", result.Results["render_video"].Status)
	require.NotEmpty(t, events)
}

func TestExecutorStopsOnCancel(t *testing.T) {
	tools := make([]Tool, 0, len(DefaultPipelineOrder))
	for _, id := range DefaultPipelineOrder {
		tools = append(tools, stubTool(id))
	}
	chain := newTestChain(t, tools...)
	ex := NewExecutor(chain)
	rt := &RuntimeContext{SessionID: "sess-exec", MediaDir: t.TempDir(), Lang: "en"}

	result := ex.Run(context.Background(), rt, PresetQuickCut(), nil, nil, func() bool { return true })
	require.Equal(t, "cancelled", result.Status)
	require.Empty(t, result.Results)
}

func TestExecutorAbortsOnFatalNodeError(t *testing.T) {
	tools := make([]Tool, 0, len(DefaultPipelineOrder))
	for _, id := range DefaultPipelineOrder {
		if id == "render_video" {
			tools = append(tools, ToolFunc{NodeName: id, Fn: func(ctx context.Context, args map[string]any) (ToolResult, error) {
				return ToolResult{IsError: true, Summary: "render failed"}, nil
			}})
			continue
		}
		tools = append(tools, stubTool(id))
	}
	chain := newTestChain(t, tools...)
	ex := NewExecutor(chain)
	rt := &RuntimeContext{SessionID: "sess-exec", MediaDir: t.TempDir(), Lang: "en"}

	result := ex.Run(context.Background(), rt, PresetQuickCut(), nil, nil, func() bool { return false })
	require.Equal(t, "error", result.Status)
	require.Equal(t, "render_video", result.FailedNode)
}

func TestExecutorSemiAutoConfirmTimeoutFallsBackToParams(t *testing.T) {
	tools := make([]Tool, 0, len(DefaultPipelineOrder))
	for _, id := range DefaultPipelineOrder {
		tools = append(tools, stubTool(id))
	}
	chain := newTestChain(t, tools...)
	ex := NewExecutor(chain)
	rt := &RuntimeContext{SessionID: "sess-exec", MediaDir: t.TempDir(), Lang: "en"}

	tmpl := PresetSemiAuto()
	tmpl.SemiAutoTimeoutSec = 0 // force immediate timeout

	neverConfirm := func(ctx context.Context, nodeID string, params map[string]any, timeoutSec int) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	result := ex.Run(context.Background(), rt, tmpl, nil, neverConfirm, func() bool { return false })
	require.Equal(t, "done", result.Status)
}
