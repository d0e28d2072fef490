package chatstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeOnCancelSynthesizesMissingToolResult(t *testing.T) {
	msgs := []AgentMessage{
		{Role: "user", Text: "cut this clip"},
		{Role: "assistant", ToolCalls: []AgentToolCall{{ID: "call-1", Name: "filter_clips"}}},
	}

	out := SanitizeOnCancel(msgs, []string{"call-1"}, "")
	require.Len(t, out, 3)
	assert.Equal(t, "tool", out[2].Role)
	assert.Equal(t, "call-1", out[2].ToolCallID)
	assert.Equal(t, map[string]any{"cancelled": true}, out[2].ToolResult)
}

func TestSanitizeOnCancelReplacesCancelledResult(t *testing.T) {
	msgs := []AgentMessage{
		{Role: "assistant", ToolCalls: []AgentToolCall{{ID: "call-1"}}},
		{Role: "tool", ToolCallID: "call-1", ToolResult: "some real partial output"},
	}
	out := SanitizeOnCancel(msgs, []string{"call-1"}, "")
	require.Len(t, out, 2)
	assert.Equal(t, map[string]any{"cancelled": true}, out[1].ToolResult)
}

func TestSanitizeOnCancelReplacesTrailingPartialText(t *testing.T) {
	msgs := []AgentMessage{
		{Role: "user", Text: "go"},
		{Role: "assistant", Text: "Here's part of my respo"},
	}
	out := SanitizeOnCancel(msgs, nil, "Here's part of my response.")
	require.Len(t, out, 2)
	assert.Equal(t, "Here's part of my response.", out[1].Text)
}

func TestSanitizeOnCancelDropsTrailingPartialTextWhenEmpty(t *testing.T) {
	msgs := []AgentMessage{
		{Role: "user", Text: "go"},
		{Role: "assistant", Text: "uh"},
	}
	out := SanitizeOnCancel(msgs, nil, "")
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0].Role)
}

func TestSanitizeOnCancelKeepsPartialTextWhenLaterToolCallAssistantExists(t *testing.T) {
	msgs := []AgentMessage{
		{Role: "assistant", Text: "thinking out loud"},
		{Role: "assistant", ToolCalls: []AgentToolCall{{ID: "call-9"}}},
		{Role: "tool", ToolCallID: "call-9", ToolResult: "ok"},
	}
	out := SanitizeOnCancel(msgs, nil, "")
	require.Len(t, out, 3)
	assert.Equal(t, "thinking out loud", out[0].Text)
}

func TestSanitizeOnCancelNoOpWhenLastAssistantHasToolCalls(t *testing.T) {
	msgs := []AgentMessage{
		{Role: "user", Text: "go"},
		{Role: "assistant", ToolCalls: []AgentToolCall{{ID: "call-1"}}},
		{Role: "tool", ToolCallID: "call-1", ToolResult: "ok"},
	}
	out := SanitizeOnCancel(msgs, nil, "")
	require.Len(t, out, 3)
}
