package session

import (
	"fmt"
	"time"
)

// ToolEventKind discriminates the raw wire events ApplyToolEvent
// accepts.
type ToolEventKind string

const (
	ToolEventStart    ToolEventKind = "tool_start"
	ToolEventProgress ToolEventKind = "tool_progress"
	ToolEventEnd      ToolEventKind = "tool_end"
)

// ToolEvent is one raw progress/result notification from a running
// tool call.
type ToolEvent struct {
	Kind       ToolEventKind
	ToolCallID string
	ToolName   string
	Progress   float64 // raw, pre-normalization
	Total      float64
	Summary    any
	IsError    bool
}

// ApplyToolEvent creates or updates the history entry for
// evt.ToolCallID in place, normalizing progress: if total>0 use
// progress/total, else if progress>1 treat as a percent (divide by
// 100), finally clamp to [0,1].
func (s *Session) ApplyToolEvent(evt ToolEvent) *HistoryEntry {
	s.mediaLock.Lock() // history mutation shares the session-wide bookkeeping lock
	defer s.mediaLock.Unlock()

	idx, ok := s.toolIdx[evt.ToolCallID]
	if !ok {
		s.History = append(s.History, HistoryEntry{
			Role:       "tool",
			ToolCallID: evt.ToolCallID,
			ToolName:   evt.ToolName,
			Status:     "running",
			Timestamp:  time.Now(),
		})
		idx = len(s.History) - 1
		s.toolIdx[evt.ToolCallID] = idx
	}
	entry := &s.History[idx]

	switch evt.Kind {
	case ToolEventStart:
		entry.Status = "running"
		if evt.ToolName != "" {
			entry.ToolName = evt.ToolName
		}
	case ToolEventProgress:
		entry.Status = "running"
		entry.Progress = normalizeProgress(evt.Progress, evt.Total)
	case ToolEventEnd:
		entry.Progress = 1
		entry.IsError = evt.IsError
		entry.Summary = evt.Summary
		if evt.IsError {
			entry.Status = "error"
		} else {
			entry.Status = "done"
		}
	}
	return entry
}

// normalizeProgress implements the clamp rule: total>0 ->
// progress/total; else progress>1 -> percent/100; finally clamp to
// [0,1].
func normalizeProgress(progress, total float64) float64 {
	var p float64
	switch {
	case total > 0:
		p = progress / total
	case progress > 1:
		p = progress / 100
	default:
		p = progress
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// MarkRunningToolsCancelled sets every still-running tool-history entry
// to error with summary {cancelled:true}, returning their call ids —
// used by the streaming controller's cancellation sequence.
func (s *Session) MarkRunningToolsCancelled() []string {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()

	var cancelled []string
	for i := range s.History {
		e := &s.History[i]
		if e.Role == "tool" && e.Status == "running" {
			e.Status = "error"
			e.IsError = true
			e.Summary = map[string]any{"cancelled": true}
			cancelled = append(cancelled, e.ToolCallID)
		}
	}
	return cancelled
}

// AppendAssistantText appends a committed assistant-text history
// entry, used on normal completion, on error and on cancellation.
func (s *Session) AppendAssistantText(text string) {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()
	s.History = append(s.History, HistoryEntry{Role: "assistant", Text: text, Timestamp: time.Now()})
}

// AppendUserText appends a user-turn history entry.
func (s *Session) AppendUserText(text string) {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()
	s.History = append(s.History, HistoryEntry{Role: "user", Text: text, Timestamp: time.Now()})
}

// ClearHistory clears chat history and tool indices without touching
// load_media or the upload sequence counter — media numbering must
// never be reused within a session.
func (s *Session) ClearHistory() {
	s.mediaLock.Lock()
	defer s.mediaLock.Unlock()
	s.History = nil
	s.toolIdx = make(map[string]int)
	s.attachStatsMsgIdx = 1
}

// RefreshMediaStats returns the text of the media-stats system message:
// a running tally of media attached this turn / sent this session /
// total in the library. It only formats the text; it does not place it
// into any message list.
func (s *Session) RefreshMediaStats(attachedThisTurn, totalSentThisSession int) string {
	s.mediaLock.Lock()
	libraryTotal := len(s.loadMedia)
	s.mediaLock.Unlock()

	return fmt.Sprintf(
		"[User media upload status] attached_this_turn=%d total_sent_this_session=%d total_in_library=%d",
		attachedThisTurn, totalSentThisSession, libraryTotal,
	)
}
