package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"comm_core/internal/auth"
	"comm_core/internal/delivery"
	"comm_core/internal/domain"
	"comm_core/internal/event"
	"comm_core/internal/repository"
	"comm_core/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) sendOTP(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phoneNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Phone number is required"})
		return
	}

	code, err := s.otp.Generate(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		s.serverError(c, "send otp", err)
		return
	}

	// SMS gateway integration goes here; until then the code is logged and
	// returned for development flows.
	logger.FromGin(c).Info("otp issued", slog.String("phone", req.PhoneNumber))
	c.JSON(http.StatusOK, gin.H{"message": "OTP sent successfully", "devOtp": code})
}

func (s *Server) verifyOTP(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phoneNumber" binding:"required"`
		OTP         string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Phone number and OTP are required"})
		return
	}

	ok, err := s.otp.Verify(c.Request.Context(), req.PhoneNumber, req.OTP)
	if err != nil {
		s.serverError(c, "verify otp", err)
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired OTP"})
		return
	}

	user, err := s.users.FindByPhone(c.Request.Context(), req.PhoneNumber)
	if errors.Is(err, repository.ErrNotFound) {
		id, err := s.users.Create(c.Request.Context(), req.PhoneNumber)
		if err != nil {
			s.serverError(c, "create user", err)
			return
		}
		user, err = s.users.FindByID(c.Request.Context(), id)
		if err != nil {
			s.serverError(c, "load user", err)
			return
		}
	} else if err != nil {
		s.serverError(c, "find user", err)
		return
	}

	token, err := s.auth.Issue(time.Now(), user.ID, user.PhoneNumber)
	if err != nil {
		s.serverError(c, "issue token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (s *Server) me(c *gin.Context) {
	user, err := s.users.FindByID(c.Request.Context(), auth.Identity(c).UserID)
	if err != nil {
		s.serverError(c, "load user", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) updateProfile(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid body"})
		return
	}

	userID := auth.Identity(c).UserID
	current, err := s.users.FindByID(c.Request.Context(), userID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		s.serverError(c, "load user", err)
		return
	}

	// Profile picture is kept; only the username changes here.
	if err := s.users.UpdateProfile(c.Request.Context(), userID, req.Username, current.ProfilePicture); err != nil {
		s.serverError(c, "update profile", err)
		return
	}
	updated, err := s.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		s.serverError(c, "load user", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) listConversations(c *gin.Context) {
	summaries, err := s.chats.ListForUser(c.Request.Context(), auth.Identity(c).UserID)
	if err != nil {
		s.serverError(c, "list conversations", err)
		return
	}
	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	c.JSON(http.StatusOK, summaries)
}

func (s *Server) startConversation(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phoneNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Phone number is required"})
		return
	}

	other, err := s.users.FindByPhone(c.Request.Context(), req.PhoneNumber)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		s.serverError(c, "find user", err)
		return
	}

	requesterID := auth.Identity(c).UserID
	if other.ID == requesterID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot chat with yourself"})
		return
	}

	conversationID, err := s.chats.FindOrCreateIndividual(c.Request.Context(), requesterID, other.ID)
	if err != nil {
		s.serverError(c, "start conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationId": conversationID})
}

func (s *Server) listMessages(c *gin.Context) {
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	cursor, _ := strconv.ParseInt(c.Query("cursor"), 10, 64)

	messages, err := s.chats.PageByConversation(c.Request.Context(), conversationID, limit, cursor)
	if err != nil {
		s.serverError(c, "list messages", err)
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// sendMessage is the request/response write path, used after an upload when
// the client posts the file URL instead of emitting on the socket. Room
// broadcast and participant notifications run exactly as on the socket path.
func (s *Server) sendMessage(c *gin.Context) {
	var req struct {
		ConversationID int64              `json:"conversationId" binding:"required"`
		Content        string             `json:"content"`
		Type           domain.MessageType `json:"type"`
		FileURL        string             `json:"fileUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Conversation is required"})
		return
	}

	msg, err := s.coordinator.SendFromUser(c.Request.Context(), auth.Identity(c).UserID, event.MsgSend{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Type:           req.Type,
		FileURL:        req.FileURL,
	})
	if err != nil {
		s.serverError(c, "send message", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) deleteMessage(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	err := s.coordinator.DeleteMessage(c.Request.Context(), auth.Identity(c).UserID, messageID)
	switch {
	case errors.Is(err, delivery.ErrNotSender):
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
	case err != nil:
		s.serverError(c, "delete message", err)
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (s *Server) deleteConversation(c *gin.Context) {
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.coordinator.RemoveConversation(c.Request.Context(), conversationID); err != nil {
		s.serverError(c, "delete conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) clearConversation(c *gin.Context) {
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.coordinator.ClearConversation(c.Request.Context(), conversationID); err != nil {
		s.serverError(c, "clear conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) createCall(c *gin.Context) {
	var req struct {
		ReceiverID int64 `json:"receiverId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Receiver is required"})
		return
	}

	callID, err := s.calls.Create(c.Request.Context(), auth.Identity(c).UserID, req.ReceiverID)
	if err != nil {
		s.serverError(c, "create call", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": callID})
}

func (s *Server) updateCallStatus(c *gin.Context) {
	var req struct {
		CallID int64             `json:"callId" binding:"required"`
		Status domain.CallStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Call id and status are required"})
		return
	}
	switch req.Status {
	case domain.CallOngoing, domain.CallEnded, domain.CallMissed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	if err := s.calls.UpdateStatus(c.Request.Context(), req.CallID, req.Status); err != nil {
		s.serverError(c, "update call", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) callHistory(c *gin.Context) {
	history, err := s.calls.HistoryForUser(c.Request.Context(), auth.Identity(c).UserID)
	if err != nil {
		s.serverError(c, "call history", err)
		return
	}
	if history == nil {
		history = []domain.Call{}
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) uploadFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	name := uuid.NewString() + filepath.Ext(file.Filename)
	if err := c.SaveUploadedFile(file, filepath.Join(s.uploadDir, name)); err != nil {
		s.serverError(c, "save upload", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":  "/uploads/" + name,
		"name": file.Filename,
		"type": file.Header.Get("Content-Type"),
		"size": file.Size,
	})
}

func (s *Server) serverError(c *gin.Context, op string, err error) {
	logger.FromGin(c).Error(op+" failed", slog.String("err", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}
