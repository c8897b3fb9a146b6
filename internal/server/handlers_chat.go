package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dataloom/internal/chat"
	"dataloom/internal/storage"
)

type messageJSON struct {
	Seq     int64  `json:"seq"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toMessageJSON(m storage.Message) messageJSON {
	return messageJSON{Seq: m.Seq, Role: m.Role, Content: m.Content}
}

func (s *Server) handleCreateSession(c *gin.Context) {
	ws, err := s.db.GetWorkspace(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.db.CreateSession(c.Request.Context(), ws.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": sess.ID})
}

func (s *Server) handleListMessages(c *gin.Context) {
	msgs, err := s.db.ListMessages(c.Request.Context(), c.Param("sid"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageJSON(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type submitMessageRequest struct {
	Text            string `json:"text" binding:"required"`
	ClientMessageID string `json:"client_message_id"`
}

func (s *Server) handleSubmitMessage(c *gin.Context) {
	var req submitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID := c.Param("sid")

	marked := false
	if req.ClientMessageID != "" && s.dedupe != nil {
		first, err := s.dedupe.MarkFirst(c.Request.Context(), sessionID, req.ClientMessageID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !first {
			c.JSON(http.StatusAccepted, gin.H{"status": "duplicate"})
			return
		}
		marked = true
	}

	res, err := s.machine.Submit(c.Request.Context(), sessionID, req.Text)
	if err != nil {
		// The message never entered the transcript; release its id so the
		// client can retry the same logical message.
		if marked {
			if ferr := s.dedupe.Forget(c.Request.Context(), sessionID, req.ClientMessageID); ferr != nil {
				s.log.Warn().Err(ferr).Str("session_id", sessionID).Msg("dedupe release failed")
			}
		}
		s.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":                  toMessageJSON(res.UserTurn),
		"model":                 toMessageJSON(res.ModelTurn),
		"awaiting_confirmation": res.AwaitingConfirmation,
	})
}

func (s *Server) handleConfirm(c *gin.Context) {
	ack, err := s.machine.Confirm(c.Request.Context(), c.Param("sid"))
	if err != nil {
		s.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ack": toMessageJSON(ack)})
}

func (s *Server) handleCancel(c *gin.Context) {
	ack, err := s.machine.Cancel(c.Request.Context(), c.Param("sid"))
	if err != nil {
		s.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ack": toMessageJSON(ack)})
}

func (s *Server) writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, chat.ErrAwaitingConfirmation):
		c.JSON(http.StatusConflict, gin.H{"error": "an action is awaiting confirmation"})
	case errors.Is(err, chat.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "session is busy"})
	case errors.Is(err, chat.ErrNoPending):
		c.JSON(http.StatusConflict, gin.H{"error": "no action awaiting confirmation"})
	case errors.Is(err, chat.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "hourly message limit reached"})
	default:
		s.log.Error().Err(err).Msg("chat request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
