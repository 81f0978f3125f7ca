package devserver

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"ChatSync/logger"
	"ChatSync/middleware/security"
	"ChatSync/module/chat/model"
	"ChatSync/service/api"
	"ChatSync/service/transport"
	"ChatSync/tools/errs"
	"ChatSync/tools/ids"
	jwtsec "ChatSync/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func conversationParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleLogin(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	if s.opts.Users != nil && s.opts.Users[req.Username] != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	tok, exp, err := jwtsec.Generate(s.jwt, req.Username)
	if err != nil {
		logger.Error("[DevServer] sign token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token"})
		return
	}
	c.JSON(http.StatusOK, api.LoginResult{Token: tok, UserID: req.Username, ExpireAt: exp.Unix()})
}

func (s *Server) handleCompose(c *gin.Context) {
	user := c.GetString(security.CtxUserIDKey)
	convID, ok := conversationParam(c)
	if !ok || !s.store.IsParticipant(convID, user) {
		c.JSON(http.StatusNotFound, composeBody{Errors: gin.H{"conversation": []string{"Not found."}}})
		return
	}

	msg := model.ServerMessage{
		ConversationID: convID,
		Sender:         user,
		MessageType:    model.MessageTypeText,
		SentAt:         s.clock.Now(),
		ClientToken:    c.PostForm(api.FieldClientToken),
	}
	if content := strings.TrimSpace(c.PostForm(api.FieldContent)); content != "" {
		msg.Content = model.StringPtr(content)
	}
	fh, err := c.FormFile(api.FieldMedia)
	switch {
	case err == nil:
		if kind := model.MediaKindFromMIME(fh.Header.Get("Content-Type")); kind != "" {
			msg.MessageType = string(kind)
		}
		// snowflake prefix keeps two uploads of the same file apart
		url := fmt.Sprintf("/media/chat_media/%d/%s_%s", convID, ids.GenerateString(), filepath.Base(fh.Filename))
		msg.MediaURL = &url
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		c.JSON(http.StatusBadRequest, composeBody{Errors: gin.H{api.FieldMedia: []string{err.Error()}}})
		return
	}
	if msg.Content == nil && msg.MediaURL == nil {
		c.JSON(http.StatusBadRequest, composeBody{Errors: gin.H{api.FieldContent: []string{"Message must contain text or media."}}})
		return
	}

	stored, err := s.persist(c.Request.Context(), msg)
	if err != nil {
		logger.Error("[DevServer] compose", zap.Int64("conversation", convID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, composeBody{Errors: err.Error()})
		return
	}
	wire := toWire(stored, isoLayout)
	c.JSON(http.StatusOK, composeBody{Success: true, Message: &wire})
}

func (s *Server) handleFetch(c *gin.Context) {
	user := c.GetString(security.CtxUserIDKey)
	convID, ok := conversationParam(c)
	if !ok || !s.store.IsParticipant(convID, user) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	lastID := int64(0)
	if v := c.Query("last_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_id"})
			return
		}
		lastID = id
	}
	msgs, err := s.store.Since(convID, user, lastID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fetchBody{
		Messages: toWireList(msgs, listLayout),
		Typing:   s.store.Typing(convID, user),
	})
}

func (s *Server) handleTyping(c *gin.Context) {
	user := c.GetString(security.CtxUserIDKey)
	var req typingBody
	if err := c.ShouldBindJSON(&req); err != nil || req.ConversationID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request"})
		return
	}
	if err := s.setTyping(user, req.ConversationID, req.IsTyping); err != nil {
		status := http.StatusBadRequest
		if errs.ErrRecordNotFound.Is(err) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleUpdates(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Summary(c.GetString(security.CtxUserIDKey)))
}

func (s *Server) handlePush(c *gin.Context) {
	user := c.GetString(security.CtxUserIDKey)
	ws, err := upgraded.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Info("[DevServer] upgrade websocket", zap.Error(err))
		return
	}
	s.hub.Serve(ws, user)
}

type createConversationReq struct {
	Participants []string `json:"participants"`
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req createConversationReq
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Participants) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least two participants"})
		return
	}
	id := s.CreateConversation(req.Participants...)
	c.JSON(http.StatusOK, gin.H{"id": id})
}

type notifyReq struct {
	UserID string  `json:"user_id"`
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
	Views  int     `json:"views"`
}

func (s *Server) handleNotify(c *gin.Context) {
	var req notifyReq
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	var n model.Notification
	switch req.Type {
	case transport.FrameNewBooking:
		n = model.NewBooking{}
	case transport.FramePaymentReceived:
		n = model.PaymentReceived{Amount: req.Amount}
	case transport.FrameProfileView:
		n = model.ProfileView{Views: req.Views}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown type"})
		return
	}
	delivered, err := s.Emit(req.UserID, n)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}
