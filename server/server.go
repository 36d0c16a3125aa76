// Package server exposes the conversation service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaharia-lab/ragchat"
	"github.com/shaharia-lab/ragchat/observability"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// User-facing error messages. Internal error text never reaches the client.
const (
	msgSessionRequired  = "Session ID is required"
	msgQuestionRequired = "Question is required"
	msgInvalidBody      = "Invalid request body"
	msgServerError      = "Sorry, there was a server error. Please try again later."
	msgClearFailed      = "Failed to clear chat history"
)

const maxBodyBytes = 64 << 10

const chatRequestSchema = `{
	"type": "object",
	"properties": {
		"question":  {"type": "string"},
		"sessionId": {"type": "string"}
	}
}`

var chatSchema = gojsonschema.NewStringLoader(chatRequestSchema)

// ChatService is the part of ragchat.ConversationService the HTTP layer needs.
type ChatService interface {
	HandleTurn(ctx context.Context, sessionID, question string) (string, error)
	ClearSession(ctx context.Context, sessionID string) error
}

var _ ChatService = (*ragchat.ConversationService)(nil)

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
}

// Server wires HTTP routes to a ChatService.
type Server struct {
	router      *gin.Engine
	service     ChatService
	logger      observability.Logger
	gatherer    prometheus.Gatherer
	staticDir   string
	serviceName string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsGatherer exposes gatherer on GET /metrics.
func WithMetricsGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// WithStaticDir serves the chat UI from dir at the root path.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// WithServiceName sets the service name reported on HTTP spans.
func WithServiceName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.serviceName = name
		}
	}
}

// New creates a Server with all routes registered.
func New(service ChatService, opts ...Option) *Server {
	s := &Server{
		service:     service,
		logger:      observability.NewNullLogger(),
		serviceName: "ragchat",
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.serviceName))
	router.Use(s.requestLogger())
	router.Use(cors())

	router.POST("/chat", s.handleChat)
	router.POST("/clear-chat", s.handleClearChat)
	router.GET("/health", handleHealth)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	if s.staticDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.staticDir))))
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(map[string]interface{}{"addr": addr}).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

func (s *Server) bindChatRequest(c *gin.Context) (chatRequest, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return chatRequest{}, false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}

	result, err := gojsonschema.Validate(chatSchema, gojsonschema.NewBytesLoader(body))
	if err != nil || !result.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return chatRequest{}, false
	}

	var req chatRequest
	if err := binding.JSON.BindBody(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return chatRequest{}, false
	}

	if strings.TrimSpace(req.SessionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgSessionRequired})
		return chatRequest{}, false
	}
	return req, true
}

func (s *Server) handleChat(c *gin.Context) {
	req, ok := s.bindChatRequest(c)
	if !ok {
		return
	}

	answer, err := s.service.HandleTurn(c.Request.Context(), req.SessionID, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, ragchat.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": msgQuestionRequired})
			return
		case answer == "":
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgServerError})
			return
		}
		// The service already answered with its apology; the error is logged there.
	}

	c.JSON(http.StatusOK, answer)
}

func (s *Server) handleClearChat(c *gin.Context) {
	req, ok := s.bindChatRequest(c)
	if !ok {
		return
	}

	if err := s.service.ClearSession(c.Request.Context(), req.SessionID); err != nil {
		s.logger.WithErr(err).WithFields(map[string]interface{}{"session_id": req.SessionID}).Error("failed to clear chat history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgClearFailed})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept-Language")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
