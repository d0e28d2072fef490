package chatstream

// AgentToolCall is one tool invocation recorded on an assistant
// message sent to the model, mirroring the subset of an OpenAI-style
// tool_calls entry this package needs to reason about.
type AgentToolCall struct {
	ID   string
	Name string
}

// AgentMessage is one entry of the message list handed to the model —
// distinct from session.HistoryEntry, which is the UI-facing log.
// Only an assistant message carries ToolCalls; only a tool message
// carries ToolCallID/ToolResult.
type AgentMessage struct {
	Role       string // "user" | "assistant" | "tool"
	Text       string
	ToolCalls  []AgentToolCall
	ToolCallID string
	ToolResult any
}

// cancelledResult is the synthetic tool-result content substituted for
// any tool call interrupted by a cancellation.
func cancelledResult() map[string]any { return map[string]any{"cancelled": true} }

// SanitizeOnCancel repairs the agent message list after a turn is
// cancelled mid-flight, by applying the following steps:
//
//  1. Every tool call on an assistant message that has no matching
//     tool-role reply gets one synthesized with {cancelled:true}.
//  2. Every existing tool-role reply whose call id was actually
//     cancelled (cancelledToolCallIDs) has its result content replaced
//     with {cancelled:true} — the model never saw a real result for
//     it, regardless of what the tool eventually returned.
//  3. The list is scanned backwards for the last assistant message.
//     If that message carries tool calls, this step changes nothing.
//     If it is a plain text message (the in-progress reply being
//     streamed when cancellation hit):
//     - if interruptedText is non-empty, that message's text is
//       replaced with interruptedText and every message after it is
//       dropped (the model must not see turns that never completed);
//     - if interruptedText is empty, the message is removed entirely
//       (there was nothing worth keeping).
//     A plain text message followed by a later tool-call assistant
//     message is therefore never replaced or removed, and nothing
//     after it is dropped.
func SanitizeOnCancel(messages []AgentMessage, cancelledToolCallIDs []string, interruptedText string) []AgentMessage {
	cancelled := make(map[string]bool, len(cancelledToolCallIDs))
	for _, id := range cancelledToolCallIDs {
		cancelled[id] = true
	}

	out := synthesizeMissingToolResults(messages, cancelled)
	out = replaceCancelledToolResults(out, cancelled)
	return trimTrailingPartialAssistantText(out, interruptedText)
}

func synthesizeMissingToolResults(messages []AgentMessage, cancelled map[string]bool) []AgentMessage {
	answered := make(map[string]bool)
	for _, m := range messages {
		if m.Role == "tool" && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}

	out := make([]AgentMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, m)
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}
		for _, tc := range m.ToolCalls {
			if answered[tc.ID] {
				continue
			}
			out = append(out, AgentMessage{
				Role:       "tool",
				ToolCallID: tc.ID,
				ToolResult: cancelledResult(),
			})
			answered[tc.ID] = true
			cancelled[tc.ID] = true
		}
	}
	return out
}

func replaceCancelledToolResults(messages []AgentMessage, cancelled map[string]bool) []AgentMessage {
	out := make([]AgentMessage, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == "tool" && cancelled[out[i].ToolCallID] {
			out[i].ToolResult = cancelledResult()
		}
	}
	return out
}

func trimTrailingPartialAssistantText(messages []AgentMessage, interruptedText string) []AgentMessage {
	idx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == "assistant" && len(m.ToolCalls) == 0 {
			idx = i
			break
		}
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			// a tool-call turn closer to the end than any plain text
			// turn: nothing to trim, the partial text (if any) already
			// precedes a completed exchange.
			return messages
		}
	}
	if idx < 0 {
		return messages
	}

	if interruptedText != "" {
		out := make([]AgentMessage, idx+1)
		copy(out, messages[:idx+1])
		out[idx].Text = interruptedText
		return out
	}

	laterToolCallAssistant := false
	for i := idx + 1; i < len(messages); i++ {
		if messages[i].Role == "assistant" && len(messages[i].ToolCalls) > 0 {
			laterToolCallAssistant = true
			break
		}
	}
	if laterToolCallAssistant {
		return messages
	}

	out := make([]AgentMessage, 0, len(messages)-1)
	out = append(out, messages[:idx]...)
	out = append(out, messages[idx+1:]...)
	return out
}
