package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/apperr"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/chatstream"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/pipeline"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/ratelimit"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 16 << 20
	wsSendBuffer = 256
)

// wsEnvelope is the {type, data} JSON frame every inbound and outbound
// WebSocket message follows.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func wsOutbound(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wsEnvelope{Type: typ, Data: raw})
}

// wsConn owns one chat/pipeline connection: the gorilla connection,
// its buffered outbound queue, and the in-flight turn/pipeline state
// a client may cancel or confirm mid-flight.
type wsConn struct {
	s    *Server
	conn *websocket.Conn
	sess *session.Session
	ip   string

	ctx    context.Context
	cancel context.CancelFunc

	send chan []byte
	msgs *wsMessageSource

	pipelineMu      sync.Mutex
	pipelineRunning bool
	pipelineCancel  context.CancelFunc
	confirmCh       chan map[string]any
}

// handleWS upgrades the connection, registers it under the global
// WebSocket connection cap, and runs its read/write pumps until the
// client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "ws_connect") {
		return
	}
	sid := chi.URLParam(r, "sid")
	sess, err := s.sessions.GetOrError(sid)
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}
	if !ratelimit.TryAcquire(s.caps.WSConnections) {
		writeCapacityExceeded(w)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ratelimit.Release(s.caps.WSConnections)
		s.log.Warn("websocket upgrade failed", "session", sid, "err", err)
		return
	}
	defer ratelimit.Release(s.caps.WSConnections)

	ctx, cancel := context.WithCancel(context.Background())
	wc := &wsConn{
		s:      s,
		conn:   conn,
		sess:   sess,
		ip:     clientIP(r, s.cfg.TrustProxyHeaders),
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, wsSendBuffer),
		msgs:   newWSMessageSource(),
	}

	go wc.writePump()
	wc.emit("session.snapshot", toSnapshot(wc.sess))
	wc.readPump()
}

func (wc *wsConn) emit(typ string, data any) {
	raw, err := wsOutbound(typ, data)
	if err != nil {
		wc.s.log.Error("marshal ws frame failed", "type", typ, "err", err)
		return
	}
	select {
	case wc.send <- raw:
	default:
		wc.s.log.Warn("ws send buffer full, dropping frame", "session", wc.sess.ID, "type", typ)
	}
}

// writePump is the connection's single writer goroutine: it serializes
// every outbound frame and drives the ping heartbeat.
func (wc *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		wc.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-wc.send:
			wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				wc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := wc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound frames until the connection closes. chat.send
// runs synchronously (cancellation arrives out-of-band via the REST
// cancel endpoint, not a WS frame); pipeline.start hands off to a
// background goroutine so pipeline.cancel/confirm_response frames keep
// being read while a run is in flight.
func (wc *wsConn) readPump() {
	defer func() {
		wc.abortPipeline()
		wc.cancel()
		close(wc.send)
	}()

	wc.conn.SetReadLimit(wsMaxMessage)
	wc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	wc.conn.SetPongHandler(func(string) error {
		wc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			wc.emit("error", map[string]any{"message": "malformed frame"})
			continue
		}
		wc.dispatch(env)
	}
}

func (wc *wsConn) dispatch(env wsEnvelope) {
	switch env.Type {
	case "ping":
		wc.emit("pong", nil)
	case "session.set_lang":
		wc.handleSetLang(env.Data)
	case "chat.clear":
		wc.handleChatClear()
	case "chat.send":
		wc.handleChatSend(env.Data)
	case "pipeline.start":
		wc.handlePipelineStart(env.Data)
	case "pipeline.cancel":
		wc.handlePipelineCancel()
	case "pipeline.confirm_response":
		wc.handlePipelineConfirmResponse(env.Data)
	default:
		wc.emit("error", map[string]any{"message": fmt.Sprintf("unknown frame type %q", env.Type)})
	}
}

type setLangRequest struct {
	Lang string `json:"lang"`
}

func (wc *wsConn) handleSetLang(data json.RawMessage) {
	var req setLangRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Lang == "" {
		wc.emit("error", map[string]any{"message": "invalid session.set_lang payload"})
		return
	}
	wc.sess.Lang = req.Lang
	wc.emit("session.lang", map[string]string{"lang": req.Lang})
}

func (wc *wsConn) handleChatClear() {
	wc.sess.LockChat()
	defer wc.sess.UnlockChat()
	wc.sess.ClearHistory()
	wc.msgs.SetMessages(nil)
	wc.emit("chat.cleared", toSnapshot(wc.sess))
}

type chatSendRequest struct {
	Text     string   `json:"text"`
	MediaIDs []string `json:"media_ids"`
}

func (wc *wsConn) handleChatSend(data json.RawMessage) {
	var req chatSendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		wc.emit("error", map[string]any{"message": "invalid chat.send payload"})
		return
	}
	if d := wc.s.admitter.Check("ws_chat_send", wc.ip, 1); !d.Allowed {
		wc.emit("error", map[string]any{"message": "Too Many Requests", "retry_after": ratelimit.RetryAfterSeconds(d.RetryAfter)})
		return
	}
	if !ratelimit.TryAcquire(wc.s.caps.ChatTurns) {
		wc.emit("error", map[string]any{"message": "too many concurrent chat turns"})
		return
	}
	defer ratelimit.Release(wc.s.caps.ChatTurns)

	if !wc.sess.TryLockChat() {
		wc.emit("error", map[string]any{"message": "a turn is already running for this session"})
		return
	}
	defer wc.sess.UnlockChat()

	wc.sess.AppendUserText(req.Text)
	wc.msgs.Append(chatstream.AgentMessage{Role: "user", Text: req.Text})
	wc.emit("chat.user", map[string]any{"text": req.Text})

	attachments := wc.sess.TakePendingMediaForMessage(req.MediaIDs)

	turn := func(ctx context.Context, emit func(chatstream.AgentEvent)) (string, error) {
		if wc.s.agentLoop == nil {
			emit(chatstream.AgentEvent{Kind: chatstream.AgentEventDelta, Delta: req.Text})
			return req.Text, nil
		}
		rt := &pipeline.RuntimeContext{
			SessionID:    wc.sess.ID,
			MediaDir:     wc.sess.MediaDir,
			Lang:         wc.sess.Lang,
			TTSConfig:    wc.sess.TTSConfig(),
			PexelsAPIKey: wc.sess.PexelsAPIKey(nil),
		}
		return wc.s.agentLoop(rt, wc.sess, req.Text, attachments, emit)
	}

	err := wc.s.chat.Run(wc.ctx, wc.sess, turn, wc.msgs, func(f chatstream.Frame) {
		wc.emit(string(f.Type), f)
	})
	if err != nil && !errors.Is(err, chatstream.ErrTurnAlreadyRunning) {
		wc.s.log.Error("chat turn failed", "session", wc.sess.ID, "err", err)
	}
}

type pipelineStartRequest struct {
	TemplateID string                 `json:"template_id"`
	Template   *pipeline.EditTemplate `json:"template"`
}

func (wc *wsConn) handlePipelineStart(data json.RawMessage) {
	var req pipelineStartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		wc.emit("error", map[string]any{"message": "invalid pipeline.start payload"})
		return
	}

	var tmpl pipeline.EditTemplate
	switch {
	case req.Template != nil:
		tmpl = *req.Template
	case req.TemplateID != "":
		t, ok, err := wc.s.templateStore.Get(req.TemplateID)
		if err != nil || !ok {
			wc.emit("error", map[string]any{"message": fmt.Sprintf("template %q not found", req.TemplateID)})
			return
		}
		tmpl = t
	default:
		wc.emit("error", map[string]any{"message": "template_id or template is required"})
		return
	}

	wc.pipelineMu.Lock()
	if wc.pipelineRunning {
		wc.pipelineMu.Unlock()
		wc.emit("error", map[string]any{"message": "a pipeline is already running for this connection"})
		return
	}
	if !ratelimit.TryAcquire(wc.s.caps.ChatTurns) {
		wc.pipelineMu.Unlock()
		wc.emit("error", map[string]any{"message": "too many concurrent pipeline runs"})
		return
	}
	pctx, cancel := context.WithCancel(wc.ctx)
	wc.pipelineRunning = true
	wc.pipelineCancel = cancel
	wc.confirmCh = make(chan map[string]any, 1)
	wc.pipelineMu.Unlock()

	go wc.runPipeline(pctx, tmpl)
}

// runPipeline drives one DAG run to completion, reusing the chat-turn
// concurrency cap since both ultimately bound how many concurrent
// model/tool-backed operations the process has in flight.
func (wc *wsConn) runPipeline(ctx context.Context, tmpl pipeline.EditTemplate) {
	defer ratelimit.Release(wc.s.caps.ChatTurns)
	defer func() {
		wc.pipelineMu.Lock()
		wc.pipelineRunning = false
		wc.pipelineCancel = nil
		wc.pipelineMu.Unlock()
	}()

	rt, err := wc.s.runtimeFor(wc.sess)
	if err != nil {
		wc.emit("pipeline.error", map[string]any{"message": err.Error()})
		return
	}
	runtimeCtx := &pipeline.RuntimeContext{
		SessionID:    wc.sess.ID,
		MediaDir:     wc.sess.MediaDir,
		Lang:         wc.sess.Lang,
		TTSConfig:    wc.sess.TTSConfig(),
		PexelsAPIKey: wc.sess.PexelsAPIKey(nil),
	}

	wc.emit("pipeline.started", map[string]string{"template_id": tmpl.TemplateID})

	executor := pipeline.NewExecutor(rt.chain)
	onProgress := func(nodeID string, status pipeline.Status, progress float64, message string) {
		wc.emit("pipeline.progress", map[string]any{
			"node_id": nodeID, "status": status, "progress": progress, "message": message,
		})
	}
	onConfirm := func(cctx context.Context, nodeID string, params map[string]any, timeoutSec int) (map[string]any, error) {
		wc.emit("pipeline.confirm", map[string]any{"node_id": nodeID, "params": params, "timeout_sec": timeoutSec})
		select {
		case edited := <-wc.confirmCh:
			wc.emit("pipeline.confirm_ack", map[string]any{"node_id": nodeID})
			return edited, nil
		case <-cctx.Done():
			return nil, cctx.Err()
		}
	}
	cancelFlag := func() bool { return ctx.Err() != nil }

	result := executor.Run(ctx, runtimeCtx, tmpl, onProgress, onConfirm, cancelFlag)
	switch result.Status {
	case "cancelled":
		wc.emit("pipeline.cancelled", map[string]any{"results": result.Results})
	case "error":
		wc.emit("pipeline.error", map[string]any{"failed_node": result.FailedNode, "results": result.Results})
	default:
		wc.emit("pipeline.done", map[string]any{"results": result.Results})
	}
}

func (wc *wsConn) handlePipelineCancel() {
	wc.pipelineMu.Lock()
	cancel := wc.pipelineCancel
	wc.pipelineMu.Unlock()
	if cancel == nil {
		wc.emit("error", map[string]any{"message": "no pipeline is running"})
		return
	}
	cancel()
}

type pipelineConfirmResponseRequest struct {
	Params map[string]any `json:"params"`
}

func (wc *wsConn) handlePipelineConfirmResponse(data json.RawMessage) {
	var req pipelineConfirmResponseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		wc.emit("error", map[string]any{"message": "invalid pipeline.confirm_response payload"})
		return
	}
	wc.pipelineMu.Lock()
	ch := wc.confirmCh
	wc.pipelineMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- req.Params:
	default:
	}
}

func (wc *wsConn) abortPipeline() {
	wc.pipelineMu.Lock()
	cancel := wc.pipelineCancel
	wc.pipelineMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// wsMessageSource implements chatstream.MessageSource for one
// connection's agent-facing message list.
type wsMessageSource struct {
	mu       sync.Mutex
	messages []chatstream.AgentMessage
}

func newWSMessageSource() *wsMessageSource { return &wsMessageSource{} }

func (m *wsMessageSource) Messages() []chatstream.AgentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chatstream.AgentMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *wsMessageSource) SetMessages(msgs []chatstream.AgentMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = msgs
}

func (m *wsMessageSource) Append(msg chatstream.AgentMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}
