// Package chatstream implements the per-turn streaming protocol: a
// single chat turn is a sequence of frames (assistant.start,
// assistant.delta, tool.*, assistant.end|error) fed to a
// single-writer transport, with a cancellation sequence that must
// leave both the UI history and the agent's own message list in a
// consistent state.
//
// This package is transport-agnostic: it knows nothing about
// WebSockets. internal/httpapi owns the gorilla/websocket connection
// and the read/write pumps; it calls into a Controller and forwards
// emitted Frames to the socket's single writer goroutine, the same
// separation a connection handler draws from the message hub it
// serves.
package chatstream

// FrameType discriminates the wire events of one turn.
type FrameType string

const (
	FrameAssistantStart FrameType = "assistant.start"
	FrameAssistantDelta FrameType = "assistant.delta"
	FrameToolStart      FrameType = "tool.start"
	FrameToolProgress   FrameType = "tool.progress"
	FrameToolEnd        FrameType = "tool.end"
	FrameAssistantEnd   FrameType = "assistant.end"
	FrameError          FrameType = "error"
)

// Frame is one outbound protocol event for a turn.
type Frame struct {
	Type FrameType `json:"type"`

	// assistant.delta
	Delta string `json:"delta,omitempty"`

	// tool.*
	ToolCallID string  `json:"tool_call_id,omitempty"`
	ToolName   string  `json:"tool_name,omitempty"`
	Progress   float64 `json:"progress,omitempty"`
	Summary    any     `json:"summary,omitempty"`
	IsError    bool    `json:"isError,omitempty"`

	// assistant.end
	Text        string `json:"text,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// AgentEventKind discriminates the raw events a TurnFunc emits while
// driving the (out-of-scope) agent loop.
type AgentEventKind string

const (
	AgentEventDelta        AgentEventKind = "delta"
	AgentEventToolStart    AgentEventKind = "tool_start"
	AgentEventToolProgress AgentEventKind = "tool_progress"
	AgentEventToolEnd      AgentEventKind = "tool_end"
)

// AgentEvent is one raw notification from a running turn, translated
// into a Frame (and, for tool events, applied to session history) by
// the Controller.
type AgentEvent struct {
	Kind       AgentEventKind
	Delta      string
	ToolCallID string
	ToolName   string
	Progress   float64
	Total      float64
	Summary    any
	IsError    bool
}
