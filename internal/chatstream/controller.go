package chatstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/session"
)

// eventBufferSize bounds the FIFO pipeline between the turn goroutine
// and the frame consumer, the same buffered-channel shape a WebSocket
// client's outbound queue uses.
const eventBufferSize = 256

// ErrTurnAlreadyRunning is returned when Run is called for a session
// that already has a turn in flight; the caller should reject the
// request inline rather than queue it.
var ErrTurnAlreadyRunning = errors.New("chatstream: a turn is already running for this session")

// TurnFunc drives one chat turn's (out-of-scope) agent loop, emitting
// AgentEvents to emit as it streams text and invokes tools. It must
// return promptly once ctx is cancelled. The returned text is the
// full assistant reply accumulated so far (partial, if ctx was
// cancelled).
type TurnFunc func(ctx context.Context, emit func(AgentEvent)) (text string, err error)

// MessageSource supplies the controller with the agent's current
// message list (for sanitization) and a place to store the sanitized
// replacement — decoupled from session.Session because the message
// list sent to a model is a distinct, larger structure than the UI
// history session.Session keeps.
type MessageSource interface {
	Messages() []AgentMessage
	SetMessages([]AgentMessage)
}

// Controller runs chat turns and emits protocol Frames to a
// transport-supplied sink, one turn per session at a time.
type Controller struct {
	log *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc // session id -> running turn's cancel
}

// NewController builds a Controller.
func NewController(log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{log: log, active: make(map[string]context.CancelFunc)}
}

// Cancel requests cancellation of the session's in-flight turn, if
// any. It returns false if no turn was running.
func (c *Controller) Cancel(sessionID string) bool {
	c.mu.Lock()
	cancel, ok := c.active[sessionID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (c *Controller) tryStart(sessionID string, cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, running := c.active[sessionID]; running {
		return false
	}
	c.active[sessionID] = cancel
	return true
}

func (c *Controller) finish(sessionID string) {
	c.mu.Lock()
	delete(c.active, sessionID)
	c.mu.Unlock()
}

// Run executes one turn for sess, translating agent events into
// Frames delivered to send (which the caller wires to its transport's
// single writer goroutine — this function never writes concurrently
// to send). msgs holds the agent's own message list for
// sanitization on cancel; it may be nil if the caller doesn't need
// that bookkeeping.
//
// Run blocks until the turn finishes, is cancelled via Cancel, or ctx
// is done (e.g. the transport disconnected, in which case send simply
// stops being consulted and Run still returns promptly).
func (c *Controller) Run(ctx context.Context, sess *session.Session, turn TurnFunc, msgs MessageSource, send func(Frame)) error {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !c.tryStart(sess.ID, cancel) {
		return ErrTurnAlreadyRunning
	}
	defer c.finish(sess.ID)

	events := make(chan AgentEvent, eventBufferSize)
	done := make(chan struct{})

	var (
		finalText string
		turnErr   error
	)
	go func() {
		defer close(done)
		defer close(events)
		finalText, turnErr = turn(turnCtx, func(e AgentEvent) {
			select {
			case events <- e:
			case <-turnCtx.Done():
			}
		})
	}()

	send(Frame{Type: FrameAssistantStart})

	var partialText string
	for {
		select {
		case e, ok := <-events:
			if !ok {
				<-done
				return c.finishTurn(sess, turnErr, finalText, false, msgs, send)
			}
			partialText += c.relay(sess, e, send)

		case <-turnCtx.Done():
			cancel()
			<-done
			// done only closes after the turn goroutine's deferred
			// close(events), so events is already closed: drain
			// whatever it had buffered before honoring the
			// cancellation, so a tool/delta event queued just before
			// Cancel() was called is never silently dropped.
			for e := range events {
				partialText += c.relay(sess, e, send)
			}
			return c.finishTurn(sess, turnErr, partialText, true, msgs, send)
		}
	}
}

// relay applies one AgentEvent to session history (for tool events)
// and emits the corresponding Frame, returning any assistant text
// delta so the caller can accumulate the partial reply.
func (c *Controller) relay(sess *session.Session, e AgentEvent, send func(Frame)) string {
	switch e.Kind {
	case AgentEventDelta:
		send(Frame{Type: FrameAssistantDelta, Delta: e.Delta})
		return e.Delta

	case AgentEventToolStart:
		sess.ApplyToolEvent(session.ToolEvent{Kind: session.ToolEventStart, ToolCallID: e.ToolCallID, ToolName: e.ToolName})
		send(Frame{Type: FrameToolStart, ToolCallID: e.ToolCallID, ToolName: e.ToolName})

	case AgentEventToolProgress:
		entry := sess.ApplyToolEvent(session.ToolEvent{Kind: session.ToolEventProgress, ToolCallID: e.ToolCallID, Progress: e.Progress, Total: e.Total})
		send(Frame{Type: FrameToolProgress, ToolCallID: e.ToolCallID, Progress: entry.Progress})

	case AgentEventToolEnd:
		sess.ApplyToolEvent(session.ToolEvent{Kind: session.ToolEventEnd, ToolCallID: e.ToolCallID, Summary: e.Summary, IsError: e.IsError})
		send(Frame{Type: FrameToolEnd, ToolCallID: e.ToolCallID, Summary: e.Summary, IsError: e.IsError})
	}
	return ""
}

// finishTurn implements the two ways a turn can end: a normal/error
// completion just commits the final text and emits assistant.end/error;
// a cancellation runs the full sequence — mark running tools cancelled,
// commit the partial text, sanitize the agent message list, then emit
// assistant.end with interrupted=true.
func (c *Controller) finishTurn(sess *session.Session, turnErr error, text string, interrupted bool, msgs MessageSource, send func(Frame)) error {
	if interrupted {
		cancelledIDs := sess.MarkRunningToolsCancelled()
		if text != "" {
			sess.AppendAssistantText(text)
		}
		if msgs != nil {
			msgs.SetMessages(SanitizeOnCancel(msgs.Messages(), cancelledIDs, text))
		}
		send(Frame{Type: FrameAssistantEnd, Text: text, Interrupted: true})
		return nil
	}

	if turnErr != nil {
		if text != "" {
			sess.AppendAssistantText(text)
		}
		c.log.Error("chat turn failed", "session", sess.ID, "error", turnErr)
		send(Frame{Type: FrameError, Message: turnErr.Error()})
		return fmt.Errorf("chatstream: turn failed: %w", turnErr)
	}

	if text != "" {
		sess.AppendAssistantText(text)
	}
	send(Frame{Type: FrameAssistantEnd, Text: text})
	return nil
}
