package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"sidecar/domain"
	"sidecar/session"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SessionController exposes the Session Service (spec.md §4.E) over the
// `/agentic/*` routes named in spec.md §6. It is deliberately separate from
// Controller (the teacher's Task/Flow surface): spec.md's Session/Exchange
// model supersedes Task/Flow for this project's agent loop, but the
// Workspace routes the old Controller serves are still useful and are left
// wired in DefineRoutes.
type SessionController struct {
	Sessions *session.Service
}

func DefineSessionApiRoutes(r *gin.Engine, ctrl *SessionController) {
	agentic := r.Group("/agentic")
	agentic.POST("/session_chat", ctrl.SessionChatHandler)
	agentic.POST("/session_edit_anchored", ctrl.SessionEditAnchoredHandler)
	agentic.POST("/session_edit_agentic", ctrl.SessionEditAgenticHandler)
	agentic.POST("/cancel_running_exchange", ctrl.CancelRunningExchangeHandler)
	agentic.POST("/feedback_on_exchange", ctrl.FeedbackOnExchangeHandler)
	agentic.POST("/session_undo", ctrl.SessionUndoHandler)
}

type sessionChatRequest struct {
	WorkspaceId   string `json:"workspace_id" binding:"required"`
	SessionId     string `json:"session_id"`
	Query         string `json:"query" binding:"required"`
	ActiveFile    string `json:"active_file"`
	SelectionText string `json:"selection_text"`
}

// sseWriter frames UI events the way spec.md §6 mandates: `data: <json>\n\n`
// per event, a `{"keep_alive":"alive"}` frame every 3s, terminated by the
// literal sentinel string rather than another JSON event.
type sseWriter struct {
	c *gin.Context
}

func (w sseWriter) writeEvent(evt domain.FlowEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal UI event: %w", err)
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w sseWriter) writeKeepAlive() {
	fmt.Fprint(w.c.Writer, "data: {\"keep_alive\":\"alive\"}\n\n")
	w.c.Writer.Flush()
}

func (w sseWriter) writeDone() {
	fmt.Fprint(w.c.Writer, "data: [CODESTORY_DONE]\n\n")
	w.c.Writer.Flush()
}

func (ctrl *SessionController) SessionChatHandler(c *gin.Context) {
	var req sessionChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	sess, err := ctrl.resolveSession(c, req.WorkspaceId, req.SessionId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	w := sseWriter{c: c}

	userCtx := domain.UserContext{Query: req.Query, ActiveFile: req.ActiveFile, SelectionText: req.SelectionText}
	exchange, err := ctrl.Sessions.HumanMessage(ctx, sess, req.Query, userCtx)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sess.Id).Msg("human message exchange failed")
		w.writeDone()
		return
	}
	w.writeEvent(domain.ProgressTextEvent{
		EventType: domain.ProgressTextEventType,
		ParentId:  exchange.Id,
		Text:      "message received",
	})
	w.writeDone()
}

func (ctrl *SessionController) SessionEditAnchoredHandler(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "anchored edit streaming not wired to this handler yet"})
}

func (ctrl *SessionController) SessionEditAgenticHandler(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "agentic edit streaming not wired to this handler yet"})
}

type cancelExchangeRequest struct {
	WorkspaceId string `json:"workspace_id" binding:"required"`
	SessionId   string `json:"session_id" binding:"required"`
	ExchangeId  string `json:"exchange_id" binding:"required"`
}

func (ctrl *SessionController) CancelRunningExchangeHandler(c *gin.Context) {
	var req cancelExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	signalSent, err := ctrl.Sessions.SetExchangeAsCancelled(ctx, req.SessionId, req.ExchangeId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	w := sseWriter{c: c}
	text := "request_cancelled"
	if !signalSent {
		// Idempotent re-cancel (spec.md §8: "the second call returns
		// false"): the exchange was already terminal, so no live stream
		// needed stopping.
		text = "already_cancelled"
	}
	w.writeEvent(domain.ProgressTextEvent{
		EventType: domain.ProgressTextEventType,
		ParentId:  req.ExchangeId,
		Text:      text,
	})
	w.writeDone()
}

type sessionUndoRequest struct {
	WorkspaceId string `json:"workspace_id" binding:"required"`
	SessionId   string `json:"session_id" binding:"required"`
	ExchangeId  string `json:"exchange_id" binding:"required"`
}

// SessionUndoHandler implements spec.md §6's `POST /agentic/session_undo`
// endpoint: restore every file captured for exchange_id forward and drop
// those exchanges, responding `{done: true}`.
func (ctrl *SessionController) SessionUndoHandler(c *gin.Context) {
	var req sessionUndoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	sess, err := ctrl.Sessions.Sessions.GetSession(ctx, req.WorkspaceId, req.SessionId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := ctrl.Sessions.HandleSessionUndo(ctx, sess, req.ExchangeId); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"done": true})
}

type feedbackRequest struct {
	SessionId  string `json:"session_id" binding:"required"`
	ExchangeId string `json:"exchange_id" binding:"required"`
	Feedback   string `json:"feedback"`
}

func (ctrl *SessionController) FeedbackOnExchangeHandler(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := ctrl.Sessions.FeedbackForExchange(ctx, req.SessionId, req.ExchangeId, req.Feedback); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/event-stream")
	w := sseWriter{c: c}
	w.writeDone()
}

func (ctrl *SessionController) resolveSession(c *gin.Context, workspaceId, sessionId string) (domain.Session, error) {
	ctx := c.Request.Context()
	if sessionId == "" {
		return ctrl.Sessions.StartSession(ctx, workspaceId)
	}
	return ctrl.Sessions.Sessions.GetSession(ctx, workspaceId, sessionId)
}
