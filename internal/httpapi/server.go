// Package httpapi is the request/response companion to the realtime core:
// OTP login, profile, conversation and message CRUD, call records, file
// upload and the websocket handshake endpoint.
package httpapi

import (
	"net/http"

	"comm_core/internal/auth"
	"comm_core/internal/delivery"
	"comm_core/internal/otp"
	"comm_core/internal/repository"
	"comm_core/internal/ws"

	"github.com/gin-gonic/gin"
)

type Server struct {
	users       *repository.UserRepository
	chats       *repository.ChatRepository
	calls       *repository.CallRepository
	otp         *otp.Store
	auth        *auth.Manager
	coordinator *delivery.Coordinator
	hub         *ws.Hub
	uploadDir   string
}

func NewServer(
	users *repository.UserRepository,
	chats *repository.ChatRepository,
	calls *repository.CallRepository,
	otpStore *otp.Store,
	authManager *auth.Manager,
	coordinator *delivery.Coordinator,
	hub *ws.Hub,
	uploadDir string,
) *Server {
	return &Server{
		users:       users,
		chats:       chats,
		calls:       calls,
		otp:         otpStore,
		auth:        authManager,
		coordinator: coordinator,
		hub:         hub,
		uploadDir:   uploadDir,
	}
}

func (s *Server) Routes(r *gin.Engine) {
	r.Use(cors())
	r.Static("/uploads", s.uploadDir)

	r.GET("/ws", s.handleWebsocket)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/send-otp", s.sendOTP)
	authGroup.POST("/verify-otp", s.verifyOTP)
	authGroup.GET("/me", auth.Middleware(s.auth), s.me)
	authGroup.PUT("/profile", auth.Middleware(s.auth), s.updateProfile)

	protected := api.Group("", auth.Middleware(s.auth))
	protected.GET("/conversations", s.listConversations)
	protected.POST("/conversations", s.startConversation)
	protected.GET("/conversations/:id/messages", s.listMessages)
	protected.POST("/messages", s.sendMessage)
	protected.DELETE("/conversations/:id", s.deleteConversation)
	protected.DELETE("/conversations/:id/messages", s.clearConversation)
	protected.DELETE("/messages/:id", s.deleteMessage)
	protected.POST("/calls", s.createCall)
	protected.PUT("/calls/status", s.updateCallStatus)
	protected.GET("/calls/history", s.callHistory)
	protected.POST("/upload", s.uploadFile)
}

// handleWebsocket validates the bearer credential before the upgrade. A bad
// credential is terminal for the attempt; no session state is created.
func (s *Server) handleWebsocket(c *gin.Context) {
	token := auth.BearerToken(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication error"})
		return
	}
	claims, err := s.auth.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication error"})
		return
	}
	s.hub.ServeConnection(c.Writer, c.Request, claims.UserID, claims.PhoneNumber)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
