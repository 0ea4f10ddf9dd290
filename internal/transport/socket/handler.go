package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/hellosales/coachkernel/internal/kernel/pipeline"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/internal/observe"
	"github.com/hellosales/coachkernel/internal/topology"
)

// pipeline mode names a client can select via settings.setPipelineMode,
// picking which of [topology.Dependencies]'s topology builders a chat or
// voice frame runs through.
const (
	modeFast     = "fast"
	modeAccurate = "accurate"
	modeTyped    = "typed"
)

// Handler upgrades incoming HTTP requests to WebSocket connections and runs
// one pipeline per chat/voice turn against deps, the way a single net/http
// handler owns every connection's lifecycle in the corpus's webchat-style
// adapters — generalized here from one static channel to the kernel's full
// chat/voice topology set.
type Handler struct {
	Deps         *topology.Dependencies
	Orchestrator *pipeline.Orchestrator
	Registry     *Registry
	Service      string

	// Metrics records HTTP/pipeline telemetry. Optional — nil disables
	// run-level metric recording without affecting pipeline behavior.
	Metrics *observe.Metrics
}

// session is the per-connection state accumulated across frames: identity
// established by auth, the selected pipeline mode, and any audio buffered
// between voice.start and voice.end.
type session struct {
	mu sync.Mutex

	id      string
	userID  string
	orgID   string
	mode    string
	authed  bool

	voiceFormat   string
	voiceLanguage string
	voiceVoice    string
	audioBuf      []byte
}

// acceptOptions permits any Origin: this handler sits behind a gateway or
// load balancer that already terminates TLS and enforces its own origin
// policy, so a second same-origin check here would only reject legitimate
// traffic.
var acceptOptions = &websocket.AcceptOptions{OriginPatterns: []string{"*"}}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, acceptOptions)
	if err != nil {
		slog.Error("socket: accept failed", "err", err)
		return
	}

	sess := &session{id: uuid.NewString(), mode: modeFast}
	wsConn := newConnection(sess.id, conn)
	ctx := r.Context()

	defer func() {
		h.Registry.Remove(sess.id, wsConn)
		_ = wsConn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("socket: read failed", "session", sess.id, "err", err)
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = wsConn.Send(ctx, OutboundFrame{Type: TypeError, Message: "malformed frame"})
			continue
		}

		h.dispatch(ctx, sess, wsConn, frame)
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *session, conn *Connection, frame InboundFrame) {
	if frame.Type != TypeAuth && !sess.isAuthed() {
		_ = conn.Send(ctx, OutboundFrame{Type: TypeError, Message: "auth required before " + frame.Type})
		return
	}

	switch frame.Type {
	case TypeAuth:
		h.handleAuth(ctx, sess, conn, frame)
	case TypeSetPipelineMode:
		sess.mu.Lock()
		sess.mode = frame.Mode
		sess.mu.Unlock()
	case TypeChatMessage:
		h.runChat(ctx, sess, conn, frame, sess.modeOrDefault())
	case TypeChatTyped:
		h.runChat(ctx, sess, conn, frame, modeTyped)
	case TypeVoiceStart:
		sess.mu.Lock()
		sess.voiceFormat = frame.Format
		sess.voiceLanguage = frame.Language
		sess.voiceVoice = frame.Voice
		sess.audioBuf = sess.audioBuf[:0]
		sess.mu.Unlock()
	case TypeVoiceChunk:
		sess.mu.Lock()
		sess.audioBuf = append(sess.audioBuf, frame.Audio...)
		sess.mu.Unlock()
	case TypeVoiceEnd:
		h.runVoice(ctx, sess, conn, frame)
	case TypeVoiceCancel:
		sess.mu.Lock()
		sess.audioBuf = sess.audioBuf[:0]
		sess.mu.Unlock()
	default:
		_ = conn.Send(ctx, OutboundFrame{Type: TypeError, Message: "unknown frame type: " + frame.Type})
	}
}

func (s *session) isAuthed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

func (s *session) modeOrDefault() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == "" {
		return modeFast
	}
	return s.mode
}

// handleAuth accepts a client-supplied session ID (reconnecting to an
// existing session) or mints a new one, registers the connection, and
// replies with session.created. Every other frame type is rejected until
// this runs. Token verification against an identity provider is the
// transport boundary's job, not this package's — any non-empty token is
// accepted here since no identity provider is wired yet.
func (h *Handler) handleAuth(ctx context.Context, sess *session, conn *Connection, frame InboundFrame) {
	if frame.Token == "" {
		_ = conn.Send(ctx, OutboundFrame{Type: TypeError, Message: "auth requires a non-empty token"})
		return
	}
	sess.mu.Lock()
	if frame.SessionID != "" {
		sess.id = frame.SessionID
	}
	sess.userID = frame.Token
	sess.authed = true
	id := sess.id
	sess.mu.Unlock()

	conn.SessionID = id
	h.Registry.Add(id, conn)

	_ = conn.Send(ctx, OutboundFrame{Type: TypeSessionCreated, SessionID: id})
}

// runChat executes one chat_fast/chat_accurate/chat_typed turn synchronously
// against frame's content, streaming tokens and the final reply back over
// conn as they're produced.
func (h *Handler) runChat(ctx context.Context, sess *session, conn *Connection, frame InboundFrame, mode string) {
	sess.mu.Lock()
	sessionID, userID, orgID := sess.id, sess.userID, sess.orgID
	sess.mu.Unlock()

	build := h.Deps.ChatFast()
	switch mode {
	case modeAccurate:
		build = h.Deps.ChatAccurate()
	case modeTyped:
		build = h.Deps.ChatTyped()
	}

	cfg := map[string]any{
		"session_id": sessionID,
		"user_id":    userID,
		"org_id":     orgID,
		"content":    frame.Content,
		"skill_ids":  frame.SkillIDs,
	}

	ports := h.chatPorts(ctx, conn, sessionID)

	result := h.runPipeline(ctx, build, "chat", mode, frame.RequestID, sessionID, userID, orgID, cfg, ports)
	if result == nil {
		return
	}

	content := ""
	if out, ok := result.Outputs["final_reply"]; ok {
		content, _ = out.Data["content"].(string)
	}
	if content != "" && h.Metrics != nil {
		h.Metrics.RecordCoachReply(ctx, sessionID)
	}
	_ = conn.Send(ctx, OutboundFrame{
		Type: TypeChatComplete, Content: content, SessionID: sessionID,
		Metadata: map[string]any{"request_id": frame.RequestID},
	})
}

// runVoice executes one voice_fast/voice_accurate turn against the audio
// buffered since voice.start, emitting voice.audio.chunk as TTS produces
// them. voice.transcript is sent once the run has ended, from the stt
// stage's output in the RunResult, followed by voice.complete.
func (h *Handler) runVoice(ctx context.Context, sess *session, conn *Connection, frame InboundFrame) {
	sess.mu.Lock()
	sessionID, userID, orgID := sess.id, sess.userID, sess.orgID
	mode := sess.mode
	format, language, voice := sess.voiceFormat, sess.voiceLanguage, sess.voiceVoice
	audio := append([]byte(nil), sess.audioBuf...)
	sess.audioBuf = sess.audioBuf[:0]
	sess.mu.Unlock()

	build := h.Deps.VoiceFast()
	if mode == modeAccurate {
		build = h.Deps.VoiceAccurate()
	}

	cfg := map[string]any{
		"session_id": sessionID,
		"user_id":    userID,
		"org_id":     orgID,
		"audio":      audio,
		"format":     format,
		"language":   language,
		"voice":      voice,
	}

	ports := h.voicePorts(ctx, conn, sessionID)

	result := h.runPipeline(ctx, build, "voice", mode, frame.RequestID, sessionID, userID, orgID, cfg, ports)
	if result == nil {
		return
	}

	if out, ok := result.Outputs["stt"]; ok && out.Status == stage.StatusOK {
		transcript, _ := out.Data["text"].(string)
		_ = conn.Send(ctx, OutboundFrame{Type: TypeVoiceTranscript, Transcript: transcript, SessionID: sessionID})
	}

	if result.Cancelled {
		_ = conn.Send(ctx, OutboundFrame{
			Type: TypeVoiceComplete, SessionID: sessionID,
			Cancelled: true, CancelledReason: "No speech detected",
		})
		return
	}
	_ = conn.Send(ctx, OutboundFrame{Type: TypeVoiceComplete, SessionID: sessionID})
}

// runPipeline runs build through the orchestrator and returns its result, or
// nil if Orchestrator.Run returned an error (the run row could not be
// persisted or pipeline.started could not be emitted) — logged, not surfaced
// as a frame. A topology that fails to build comes back as a non-nil,
// failed result.
func (h *Handler) runPipeline(ctx context.Context, build pipeline.Topology, topologyName, behavior, requestID, sessionID, userID, orgID string, cfg map[string]any, ports stage.Ports) *pipeline.RunResult {
	if h.Metrics != nil {
		h.Metrics.ActiveRuns.Add(ctx, 1)
		defer h.Metrics.ActiveRuns.Add(ctx, -1)
	}

	result, err := h.Orchestrator.Run(ctx, build, pipeline.RunRequest{
		RequestID:     requestID,
		SessionID:     sessionID,
		UserID:        userID,
		OrgID:         orgID,
		Service:       h.Service,
		TopologyName:  topologyName,
		Behavior:      behavior,
		Trigger:       topologyName,
		Configuration: cfg,
		Ports:         ports,
	})
	if err != nil {
		slog.Error("socket: run failed to start", "session", sessionID, "err", err)
		return nil
	}
	if !result.Success && !result.Cancelled {
		slog.Warn("socket: run failed", "session", sessionID, "stage", result.ErrorStage, "message", result.ErrorMessage)
	}
	return result
}

// chatPorts wires stage.Ports so SendToken forwards chat.token frames as
// they're produced; the terminal chat.complete frame is sent by runChat once
// the orchestrator's RunResult carries final_reply's settled content.
func (h *Handler) chatPorts(ctx context.Context, conn *Connection, sessionID string) stage.Ports {
	return stage.Ports{
		SendToken: func(token string) {
			_ = conn.Send(ctx, OutboundFrame{Type: TypeChatToken, Content: token, SessionID: sessionID})
		},
		Emit: func(eventType string, data map[string]any) {
			if eventType == "assessment.complete" || eventType == "assessment.skipped" {
				reason, _ := data["reason"].(string)
				_ = conn.Send(ctx, OutboundFrame{Type: eventType, Reason: reason, SessionID: sessionID})
			}
		},
	}
}

// voicePorts wires stage.Ports so SendAudioChunk forwards voice.audio.chunk
// frames as TTS produces them; voice.transcript and the terminal
// voice.complete frame are sent by runVoice once the RunResult is final.
func (h *Handler) voicePorts(ctx context.Context, conn *Connection, sessionID string) stage.Ports {
	return stage.Ports{
		SendAudioChunk: func(audio []byte, format string, durationMs int, isFinal bool) {
			_ = conn.Send(ctx, OutboundFrame{
				Type: TypeVoiceAudioChunk, Audio: audio, AudioFormat: format,
				DurationMs: durationMs, IsFinal: isFinal, SessionID: sessionID,
			})
		},
		Emit: func(eventType string, data map[string]any) {
			if eventType == "assessment.complete" || eventType == "assessment.skipped" {
				reason, _ := data["reason"].(string)
				_ = conn.Send(ctx, OutboundFrame{Type: eventType, Reason: reason, SessionID: sessionID})
			}
		},
	}
}
