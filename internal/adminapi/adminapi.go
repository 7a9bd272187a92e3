// Package adminapi is the loopback HTTP+WebSocket control surface for a
// BigHeads node: login, status, contacts, chat history/search/export,
// and a dispatch endpoint for mutating actions, mirroring the teacher's
// Gin+JWT+gorilla/websocket control plane (internal/controller) but
// generalized from a multi-tenant network controller to a single local
// node's introspection surface.
package adminapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bigheads-mesh/bigheads/internal/bridge"
)

// Server is the admin HTTP server for one Bridge.
type Server struct {
	bridge     *bridge.Bridge
	adminToken string
	jwtSecret  []byte
	listen     string
	router     *gin.Engine
	hub        *eventHub
	log        *slog.Logger
}

// New builds the router. adminToken is the shared secret exchanged for
// a JWT at /auth/login; listen is a loopback host:port (e.g. 127.0.0.1:8787).
func New(br *bridge.Bridge, adminToken, listen string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "adminapi")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		bridge:     br,
		adminToken: adminToken,
		jwtSecret:  deriveJWTSecret(adminToken),
		listen:     listen,
		router:     router,
		hub:        newEventHub(log),
		log:        log,
	}
	s.setupRoutes()
	return s
}

// Run starts the event-fanout goroutine and blocks serving HTTP until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.hub.run(s.bridge.Events(), done)
	}()

	srv := &http.Server{Addr: s.listen, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		close(done)
		return srv.Close()
	case err := <-errCh:
		close(done)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) setupRoutes() {
	s.router.POST("/api/v1/auth/login", s.handleLogin)

	api := s.router.Group("/api/v1")
	api.Use(authMiddleware(s.jwtSecret))
	{
		api.GET("/status", s.handleStatus)
		api.GET("/contacts", s.handleContacts)
		api.GET("/chats/:chat_id/messages", s.handleChatMessages)
		api.POST("/chats/:chat_id/search", s.handleSearch)
		api.POST("/chats/:chat_id/export", s.handleExport)
		api.POST("/dispatch/:action", s.handleDispatch)
		api.GET("/events", s.hub.handleConnect)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !constantTimeEqual(req.Token, s.adminToken) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
		return
	}
	token, expiresAt, err := generateToken(s.bridge.Status().NodeID, s.jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt.Unix()})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.bridge.Status())
}

func (s *Server) handleContacts(c *gin.Context) {
	contacts, err := s.bridge.Store.ListContacts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (s *Server) handleChatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := s.bridge.Store.GetChatMessages(chatID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

type searchRequest struct {
	Term string `json:"term"`
}

func (s *Server) handleSearch(c *gin.Context) {
	chatID := c.Param("chat_id")
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := s.bridge.Mesh.SearchChat(chatID, req.Term)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

type exportRequest struct {
	Format string `json:"format"`
}

func (s *Server) handleExport(c *gin.Context) {
	chatID := c.Param("chat_id")
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	path, err := s.bridge.Mesh.ExportChat(chatID, req.Format)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (s *Server) handleDispatch(c *gin.Context) {
	action := c.Param("action")
	var args map[string]any
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := s.bridge.Dispatch(action, args); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("dispatch failed: %s", err)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": action})
}
