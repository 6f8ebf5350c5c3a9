package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ahmetmnr/dogalast-sub000/internal/app"
	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
	"github.com/ahmetmnr/dogalast-sub000/internal/recovery"
)

// WSHandler wires websocket connections into the session engine. The outer
// system authenticates; here the acting user arrives as query parameters.
type WSHandler struct {
	engine   *app.Engine
	recovery *recovery.Service
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewWSHandler(engine *app.Engine, recoverySvc *recovery.Service, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		engine:   engine,
		recovery: recoverySvc,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type toolPayload struct {
	Name           string         `json:"name"`
	Args           map[string]any `json:"args"`
	SessionID      string         `json:"sessionId"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

type resumePayload struct {
	SessionID string `json:"sessionId"`
	Attempt   int    `json:"attempt"`
}

type syncPayload struct {
	SessionID string               `json:"sessionId"`
	State     recovery.ClientState `json:"state"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades the request and pumps tool calls into the engine. A
// dropped connection flows into the recovery service asynchronously.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	role := domain.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = domain.RoleParticipant
	}
	actor := domain.Actor{ID: userID, Role: role}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage, 16)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn("ws write error", zap.Error(err))
				return
			}
		}
	}()

	// boundSession is the session this connection last acted on; used to
	// pause it when the socket drops.
	boundSession := r.URL.Query().Get("sessionId")

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		out := h.handleMessage(r.Context(), inbound, actor, &boundSession)
		if !trySend(send, writerDone, out) {
			break
		}
	}

	close(send)
	<-writerDone

	if boundSession != "" {
		// The request context is gone once the socket drops.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.recovery.HandleDisconnection(ctx, boundSession, userID, "connection closed"); err != nil {
			h.logger.Warn("disconnect handling failed",
				zap.String("session", boundSession),
				zap.Error(err))
		}
	}
}

// handleMessage dispatches one inbound frame and returns the single reply.
// boundSession is updated as the connection binds to a session.
func (h *WSHandler) handleMessage(ctx context.Context, inbound inboundMessage, actor domain.Actor, boundSession *string) outboundMessage {
	switch inbound.Type {
	case "tool":
		var payload toolPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errMsg("validation", "invalid tool payload")
		}
		result, err := h.engine.ExecuteTool(ctx, app.ToolCall{
			Name:           app.ToolName(payload.Name),
			Args:           payload.Args,
			SessionID:      payload.SessionID,
			Actor:          actor,
			IdempotencyKey: payload.IdempotencyKey,
		})
		if err != nil {
			return errMsg(errorCode(err), err.Error())
		}
		if start, ok := result.Payload.(app.StartResult); ok {
			*boundSession = start.Session.ID
		} else if payload.SessionID != "" {
			*boundSession = payload.SessionID
		}
		return outboundMessage{Type: "toolResult", Payload: result}

	case "resume":
		var payload resumePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errMsg("validation", "invalid resume payload")
		}
		result, err := h.recovery.AttemptReconnection(ctx, payload.SessionID, actor.ID, payload.Attempt)
		if err != nil {
			return errMsg(errorCode(err), err.Error())
		}
		if result.CanResume {
			*boundSession = payload.SessionID
		}
		return outboundMessage{Type: "recovery", Payload: result}

	case "sync":
		var payload syncPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errMsg("validation", "invalid sync payload")
		}
		snap, err := h.recovery.SyncStateWithClient(ctx, payload.SessionID, actor.ID, payload.State)
		if err != nil {
			return errMsg(errorCode(err), err.Error())
		}
		return outboundMessage{Type: "snapshot", Payload: snap}

	default:
		return errMsg("validation", "unsupported message type")
	}
}

// trySend queues msg for the writer unless the writer has already exited.
// A dead writer means the connection is going away and a blocking send
// would pin the read loop forever.
func trySend(send chan<- outboundMessage, writerDone <-chan struct{}, msg outboundMessage) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func errMsg(code, message string) outboundMessage {
	return outboundMessage{Type: "toolError", Payload: errorPayload{Code: code, Message: message}}
}

// errorCode maps engine errors to stable codes so clients can tell a
// retryable condition from an impossible action.
func errorCode(err error) string {
	var validation *domain.ValidationError
	var phase *domain.PhaseError
	var integrity *domain.IntegrityError
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &phase):
		return "phase"
	case errors.As(err, &integrity):
		return "integrity"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, domain.ErrSessionRequired):
		return "session_required"
	case errors.Is(err, domain.ErrNotSessionOwner):
		return "not_owner"
	case errors.Is(err, domain.ErrSessionTerminal):
		return "session_terminal"
	case errors.Is(err, domain.ErrSessionPaused):
		return "session_paused"
	case errors.Is(err, domain.ErrQuestionsExhausted):
		return "questions_exhausted"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return "question_not_found"
	case errors.Is(err, domain.ErrTimingIncomplete):
		return "timing_incomplete"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
