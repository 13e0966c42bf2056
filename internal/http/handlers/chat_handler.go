// Chat HTTP handlers.
//
// This file exposes the guided conversation:
//   - POST /chat/start                    (open a session, greeting)
//   - POST /chat/message                  (apply one turn)
//   - POST /chat/resume                   (re-render the pending prompt)
//   - GET  /chat/sessions/{id}/messages   (transcript, paginated, ETag support)
//
// Every turn response is a conversation.Directive: a fixed template message
// plus the controls for the next expected slot.
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-agent/internal/conversation"
	"github.com/tbourn/go-support-agent/internal/domain"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload of one turn. Control values are
// flattened next to the session id.
type PostMessageRequest struct {
	// SessionID identifies the conversation.
	SessionID string `json:"session_id" binding:"required" example:"SES-4F1C2A9B7D30"`
	conversation.Input
}

// ResumeRequest is the JSON payload for resuming a session.
type ResumeRequest struct {
	SessionID string `json:"session_id" binding:"required" example:"SES-4F1C2A9B7D30"`
}

// ListMessagesResponse contains a page of transcript entries and pagination
// metadata.
type ListMessagesResponse struct {
	Messages   []domain.ChatMessage `json:"messages"`
	Pagination Pagination           `json:"pagination"`
}

//
// Handlers
//

// StartChat godoc
// @ID          startChat
// @Summary     Start a support conversation
// @Description Opens a session with a fresh case id and returns the greeting directive.
// @Tags        Chat
// @Produce     json
//
// @Success     201  {object}  conversation.Directive
// @Failure     503  {object}  handlers.ErrorResponse  "Temporarily unavailable"
// @Router      /chat/start [post]
func (h *Handlers) StartChat(c *gin.Context) {
	d, err := h.chatSvc.Start(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, d)
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send one turn
// @Description Applies guided control values (and optional free text) to the session.
// @Description The response asks for the next expected slot. Refused input returns 200 with refused=true.
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.PostMessageRequest  true  "Turn payload"
//
// @Success     200  {object}  conversation.Directive
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Session busy or store unavailable"
// @Router      /chat/message [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.chatSvc.Message(c.Request.Context(), strings.TrimSpace(req.SessionID), req.Input)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// ResumeChat godoc
// @ID          resumeChat
// @Summary     Resume a session
// @Description Re-renders the prompt for the persisted state of the session.
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.ResumeRequest  true  "Session to resume"
//
// @Success     200  {object}  conversation.Directive
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /chat/resume [post]
func (h *Handlers) ResumeChat(c *gin.Context) {
	var req ResumeRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.chatSvc.Resume(c.Request.Context(), strings.TrimSpace(req.SessionID))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List the transcript of a session
// @Description Returns a page of transcript entries, oldest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chat
// @Produce     json
//
// @Param       id             path    string  true  "Session ID"                 example(SES-4F1C2A9B7D30)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches" example(W/\"messages:SES-4F1C2A9B7D30:5:17\")
// @Param       page           query   int     false "Page number"                minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"             minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current transcript"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Session not found"
// @Failure     503  {object} handlers.ErrorResponse "Temporarily unavailable"
// @Router      /chat/sessions/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort). Empty transcripts are left to the
	// service so unknown sessions still get a 404.
	if count, lastID, err := h.chatSvc.HistoryVersion(ctx, sessionID); err == nil && count > 0 {
		etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, sessionID, count, lastID)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.chatSvc.History(ctx, sessionID, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}
