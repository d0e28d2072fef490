package chatstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/session"
)

type fakeMessages struct {
	mu  sync.Mutex
	msg []AgentMessage
}

func (f *fakeMessages) Messages() []AgentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AgentMessage(nil), f.msg...)
}

func (f *fakeMessages) SetMessages(m []AgentMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msg = m
}

func newTestSess(id string) *session.Session {
	return session.New(id, "/tmp/media", nil, nil, nil, nil)
}

func collectFrames() (send func(Frame), get func() []Frame) {
	var mu sync.Mutex
	var frames []Frame
	send = func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	}
	get = func() []Frame {
		mu.Lock()
		defer mu.Unlock()
		return append([]Frame(nil), frames...)
	}
	return send, get
}

func TestControllerRunNormalCompletion(t *testing.T) {
	c := NewController(nil)
	sess := newTestSess("s1")
	send, frames := collectFrames()

	turn := func(ctx context.Context, emit func(AgentEvent)) (string, error) {
		emit(AgentEvent{Kind: AgentEventDelta, Delta: "Hello"})
		emit(AgentEvent{Kind: AgentEventDelta, Delta: ", world"})
		return "Hello, world", nil
	}

	err := c.Run(context.Background(), sess, turn, nil, send)
	require.NoError(t, err)

	got := frames()
	require.True(t, len(got) >= 4)
	assert.Equal(t, FrameAssistantStart, got[0].Type)
	assert.Equal(t, FrameAssistantEnd, got[len(got)-1].Type)
	assert.Equal(t, "Hello, world", got[len(got)-1].Text)
	assert.False(t, got[len(got)-1].Interrupted)

	require.Len(t, sess.History, 1)
	assert.Equal(t, "assistant", sess.History[0].Role)
	assert.Equal(t, "Hello, world", sess.History[0].Text)
}

func TestControllerRunToolLifecycle(t *testing.T) {
	c := NewController(nil)
	sess := newTestSess("s2")
	send, frames := collectFrames()

	turn := func(ctx context.Context, emit func(AgentEvent)) (string, error) {
		emit(AgentEvent{Kind: AgentEventToolStart, ToolCallID: "call-1", ToolName: "filter_clips"})
		emit(AgentEvent{Kind: AgentEventToolProgress, ToolCallID: "call-1", Progress: 1, Total: 2})
		emit(AgentEvent{Kind: AgentEventToolEnd, ToolCallID: "call-1", Summary: "trimmed 3 clips"})
		return "done", nil
	}

	err := c.Run(context.Background(), sess, turn, nil, send)
	require.NoError(t, err)

	var sawProgress bool
	for _, f := range frames() {
		if f.Type == FrameToolProgress {
			sawProgress = true
			assert.InDelta(t, 0.5, f.Progress, 1e-9)
		}
	}
	assert.True(t, sawProgress)

	require.Len(t, sess.History, 2)
	assert.Equal(t, "done", sess.History[0].Status)
	assert.Equal(t, "assistant", sess.History[1].Role)
}

func TestControllerRunPropagatesTurnError(t *testing.T) {
	c := NewController(nil)
	sess := newTestSess("s3")
	send, frames := collectFrames()

	boom := errors.New("boom")
	turn := func(ctx context.Context, emit func(AgentEvent)) (string, error) {
		return "", boom
	}

	err := c.Run(context.Background(), sess, turn, nil, send)
	require.Error(t, err)

	got := frames()
	assert.Equal(t, FrameError, got[len(got)-1].Type)
	assert.Empty(t, sess.History)
}

func TestControllerRejectsConcurrentTurnsForSameSession(t *testing.T) {
	c := NewController(nil)
	sess := newTestSess("s4")
	send, _ := collectFrames()

	started := make(chan struct{})
	release := make(chan struct{})
	turn := func(ctx context.Context, emit func(AgentEvent)) (string, error) {
		close(started)
		<-release
		return "ok", nil
	}

	go c.Run(context.Background(), sess, turn, nil, send)
	<-started

	err := c.Run(context.Background(), sess, func(ctx context.Context, emit func(AgentEvent)) (string, error) {
		return "", nil
	}, nil, send)
	require.ErrorIs(t, err, ErrTurnAlreadyRunning)

	close(release)
}

func TestControllerCancelRunsCancellationSequence(t *testing.T) {
	c := NewController(nil)
	sess := newTestSess("s5")
	send, frames := collectFrames()

	toolStarted := make(chan struct{})
	msgs := &fakeMessages{msg: []AgentMessage{
		{Role: "user", Text: "go"},
		{Role: "assistant", ToolCalls: []AgentToolCall{{ID: "call-1", Name: "render_video"}}},
	}}

	turn := func(ctx context.Context, emit func(AgentEvent)) (string, error) {
		emit(AgentEvent{Kind: AgentEventToolStart, ToolCallID: "call-1", ToolName: "render_video"})
		emit(AgentEvent{Kind: AgentEventDelta, Delta: "partial reply"})
		close(toolStarted)
		<-ctx.Done()
		return "", ctx.Err()
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- c.Run(context.Background(), sess, turn, msgs, send)
	}()

	<-toolStarted
	ok := c.Cancel("s5")
	assert.True(t, ok)

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	got := frames()
	last := got[len(got)-1]
	assert.Equal(t, FrameAssistantEnd, last.Type)
	assert.True(t, last.Interrupted)
	assert.Equal(t, "partial reply", last.Text)

	require.Len(t, sess.History, 2)
	tool := sess.History[0]
	assert.Equal(t, "error", tool.Status)
	assert.Equal(t, map[string]any{"cancelled": true}, tool.Summary)

	sanitized := msgs.Messages()
	require.Len(t, sanitized, 3)
	synthesized := sanitized[2]
	assert.Equal(t, "tool", synthesized.Role)
	assert.Equal(t, "call-1", synthesized.ToolCallID)
	assert.Equal(t, map[string]any{"cancelled": true}, synthesized.ToolResult)
}
