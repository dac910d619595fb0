package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"zen/internal/agent"
	"zen/internal/audit"
	"zen/internal/channel"
	zenerrors "zen/internal/errors"
	"zen/internal/event"
	"zen/internal/logging"
	"zen/internal/registry"
	"zen/internal/usercontext"
	"zen/internal/utils/id"
)

const shutdownTimeout = 10 * time.Second

// Config carries the HTTP listener settings.
type Config struct {
	Addr string
}

// ContextMetrics records context lifecycle outcomes. The zero value of the
// server uses a no-op implementation.
type ContextMetrics interface {
	RecordContextCreated(ctx context.Context, tier string)
	RecordContextTerminated(ctx context.Context, tier, reason string)
	RecordQuotaRejection(ctx context.Context, tier string)
	RecordIsolationViolation(ctx context.Context, operation string)
}

type nopContextMetrics struct{}

func (nopContextMetrics) RecordContextCreated(context.Context, string)            {}
func (nopContextMetrics) RecordContextTerminated(context.Context, string, string) {}
func (nopContextMetrics) RecordQuotaRejection(context.Context, string)            {}
func (nopContextMetrics) RecordIsolationViolation(context.Context, string)        {}

// Option customizes the server.
type Option func(*Server)

// WithContextMetrics attaches a lifecycle metrics sink.
func WithContextMetrics(m ContextMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Server hosts the context lifecycle API and the WebSocket event stream.
type Server struct {
	config   Config
	engine   *gin.Engine
	http     *http.Server
	verifier *Verifier
	contexts *usercontext.Factory
	sessions registry.SessionRegistry
	executor *agent.Executor
	logger   logging.Logger
	metrics  ContextMetrics
	upgrader websocket.Upgrader
}

// New wires the HTTP surface over the execution subsystem.
func New(config Config, verifier *Verifier, contexts *usercontext.Factory, sessions registry.SessionRegistry, executor *agent.Executor, logger logging.Logger, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowWebSockets = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsConfig))

	s := &Server{
		config:   config,
		engine:   engine,
		verifier: verifier,
		contexts: contexts,
		sessions: sessions,
		executor: executor,
		logger:   logging.OrNop(logger),
		metrics:  nopContextMetrics{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:    config.Addr,
		Handler: engine,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/api/health", s.handleHealth)

	authed := s.engine.Group("/", AuthMiddleware(s.verifier))
	authed.POST("/api/contexts", s.handleCreateContext)
	authed.GET("/api/contexts", s.handleListContexts)
	authed.GET("/api/contexts/:id/security", s.handleContextSecurity)
	authed.POST("/api/contexts/:id/messages", s.handleSendMessage)
	authed.POST("/api/contexts/:id/extend", s.handleExtendContext)
	authed.DELETE("/api/contexts/:id", s.handleTerminateContext)
	authed.GET("/ws/:id", s.handleWebSocket)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server listening on %s", s.config.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

type createContextRequest struct {
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type contextResponse struct {
	ContextID      string `json:"context_id"`
	UserID         string `json:"user_id"`
	ThreadID       string `json:"thread_id"`
	Tier           string `json:"tier"`
	IsolationLevel string `json:"isolation_level"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at"`
}

func toContextResponse(uc usercontext.UserExecutionContext) contextResponse {
	return contextResponse{
		ContextID:      uc.ContextID,
		UserID:         uc.UserID,
		ThreadID:       uc.ThreadID,
		Tier:           string(uc.Tier),
		IsolationLevel: uc.IsolationLevel,
		Status:         string(uc.Status),
		CreatedAt:      uc.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:      uc.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleCreateContext(c *gin.Context) {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req createContextRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
	}

	uc, err := s.contexts.CreateUserContext(principal.UserID, principal.Tier, usercontext.CreateOptions{
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		var quota *zenerrors.QuotaExceededError
		if errors.As(err, &quota) {
			s.metrics.RecordQuotaRejection(c.Request.Context(), string(principal.Tier))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": quota.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "context creation failed"})
		return
	}

	s.metrics.RecordContextCreated(c.Request.Context(), string(uc.Tier))
	c.JSON(http.StatusCreated, toContextResponse(uc))
}

func (s *Server) handleListContexts(c *gin.Context) {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	owned := s.contexts.ContextsForUser(principal.UserID)
	out := make([]contextResponse, 0, len(owned))
	for _, uc := range owned {
		out = append(out, toContextResponse(uc))
	}
	c.JSON(http.StatusOK, gin.H{"contexts": out})
}

// ownedContext resolves the path context and enforces ownership. Unknown and
// foreign contexts are indistinguishable to the caller.
func (s *Server) ownedContext(c *gin.Context) (usercontext.UserExecutionContext, bool) {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return usercontext.UserExecutionContext{}, false
	}
	uc, found := s.contexts.Get(c.Param("id"))
	if !found || uc.UserID != principal.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "context not found"})
		return usercontext.UserExecutionContext{}, false
	}
	return uc, true
}

func (s *Server) handleContextSecurity(c *gin.Context) {
	uc, ok := s.ownedContext(c)
	if !ok {
		return
	}
	result := s.contexts.ValidateContextSecurity(uc.ContextID)
	c.JSON(http.StatusOK, gin.H{"valid": result.Valid, "violations": result.Violations})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// handleSendMessage starts an agent run over REST. Progress events flow to
// the context's WebSocket channel; if none is connected yet they are
// buffered and flushed on the next bind.
func (s *Server) handleSendMessage(c *gin.Context) {
	uc, ok := s.ownedContext(c)
	if !ok {
		return
	}
	if !uc.Active() {
		c.JSON(http.StatusConflict, gin.H{"error": "context is not active"})
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content is required"})
		return
	}
	if len(req.Content) > event.MaxClientContentLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("message content exceeds %d bytes", event.MaxClientContentLen)})
		return
	}

	run := uc
	run.RunID = id.NewRunID()
	run.RequestID = id.NewRequestID()
	go func() {
		if _, err := s.executor.Run(context.Background(), run, req.Content); err != nil {
			s.logger.Warn("run failed: user=%s run=%s error=%v", run.UserID, run.RunID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": run.RunID, "thread_id": run.ThreadID})
}

type extendContextRequest struct {
	Hours float64 `json:"hours"`
}

func (s *Server) handleExtendContext(c *gin.Context) {
	uc, ok := s.ownedContext(c)
	if !ok {
		return
	}

	var req extendContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	extended := s.contexts.ExtendContextLifetime(uc.ContextID, time.Duration(req.Hours*float64(time.Hour)))
	refreshed, _ := s.contexts.Get(uc.ContextID)
	c.JSON(http.StatusOK, gin.H{
		"extended":   extended,
		"expires_at": refreshed.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTerminateContext(c *gin.Context) {
	uc, ok := s.ownedContext(c)
	if !ok {
		return
	}

	reason := audit.TerminationReason(c.DefaultQuery("reason", string(audit.ReasonUserRequest)))
	if !reason.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown termination reason"})
		return
	}

	result := s.contexts.TerminateContext(uc.ContextID, reason)
	if result.Terminated {
		s.metrics.RecordContextTerminated(c.Request.Context(), string(uc.Tier), string(reason))
	}
	c.JSON(http.StatusOK, gin.H{"terminated": result.Terminated, "reason": result.Reason})
}

// handleWebSocket upgrades the connection and binds it as the context's event
// channel, then reads client messages until the peer goes away. Each chat
// message starts one agent run.
func (s *Server) handleWebSocket(c *gin.Context) {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	uc, found := s.contexts.Get(c.Param("id"))
	if !found || uc.UserID != principal.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "context not found"})
		return
	}
	if !uc.Active() {
		c.JSON(http.StatusConflict, gin.H{"error": "context is not active"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: user=%s error=%v", principal.UserID, err)
		return
	}

	clientID := uc.WebSocketClientID
	if clientID == "" {
		clientID = id.NewEventID()
	}
	ch := channel.NewWebSocketChannel(conn, clientID, uc.UserID, uc.ThreadID,
		channel.WithChannelLogger(s.logger))

	if err := s.sessions.Bind(uc, ch); err != nil {
		var ownership *zenerrors.ThreadOwnershipViolationError
		if errors.As(err, &ownership) {
			s.metrics.RecordIsolationViolation(c.Request.Context(), "bind")
		}
		s.logger.Warn("channel bind rejected: user=%s thread=%s error=%v",
			uc.UserID, uc.ThreadID, err)
		_ = ch.Close()
		return
	}
	defer func() {
		// Scoped to this handler's channel: after a reconnect has replaced
		// the binding, the stale handler must leave the new one alone.
		s.sessions.Release(uc.UserID, uc.ThreadID, ch)
		_ = ch.Close()
	}()

	s.readLoop(c.Request.Context(), conn, ch, uc, principal)
}

func (s *Server) readLoop(parent context.Context, conn *websocket.Conn, ch channel.EventChannel, uc usercontext.UserExecutionContext, principal Principal) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-ch.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended: user=%s error=%v", principal.UserID, err)
			}
			return
		}

		msg, err := event.ParseClientMessage(data, principal.UserID)
		if err != nil {
			s.rejectMessage(ctx, ch, uc, err)
			continue
		}
		if msg.IsPing() {
			continue
		}

		if msg.ThreadID != "" && msg.ThreadID != uc.ThreadID {
			s.rejectMessage(ctx, ch, uc, fmt.Errorf("message thread does not match this connection"))
			continue
		}
		allowed, err := s.sessions.CheckAccess(principal.UserID, uc.ThreadID)
		if err != nil || !allowed {
			s.rejectMessage(ctx, ch, uc, fmt.Errorf("you do not have access to this conversation"))
			continue
		}

		run := uc
		run.RunID = id.NewRunID()
		run.RequestID = id.NewRequestID()
		go func(prompt string) {
			if _, err := s.executor.Run(ctx, run, prompt); err != nil {
				s.logger.Warn("run failed: user=%s run=%s error=%v", run.UserID, run.RunID, err)
			}
		}(msg.Content)
	}
}

// rejectMessage delivers a structured error without starting a run.
func (s *Server) rejectMessage(ctx context.Context, ch channel.EventChannel, uc usercontext.UserExecutionContext, cause error) {
	scope := event.Scope{UserID: uc.UserID, ThreadID: uc.ThreadID}
	ev := event.NewError(scope, cause.Error(), time.Now())
	if err := ch.Send(ctx, ev); err != nil {
		s.logger.Debug("error event not delivered: user=%s error=%v", uc.UserID, err)
	}
}
