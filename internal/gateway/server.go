package gateway

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"

	"github.com/lhdbsbz/analystdesk/internal/config"
)

//go:embed web/preview-sdk.js
var previewSDK []byte

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the development workflow backend: it answers turns over SSE or
// publishes them to conversation sockets, the way the production workflow
// service does.
type Server struct {
	Conns    *ConnManager
	Workflow Workflow

	settings   atomic.Pointer[config.GatewayConfig]
	dedup      *cache.Cache
	heartbeat  heartbeat
	engineOnce sync.Once
	engine     *gin.Engine
	httpSrv    *http.Server
	startAt    time.Time
}

func NewServer(cfg config.GatewayConfig) *Server {
	s := &Server{
		Conns:    NewConnManager(),
		Workflow: EchoWorkflow(cfg.PrimaryNode),
		dedup:    cache.New(cache.NoExpiration, time.Minute),
		startAt:  time.Now(),
	}
	s.settings.Store(&cfg)
	return s
}

// Settings returns the gateway settings currently in effect.
func (s *Server) Settings() config.GatewayConfig { return *s.settings.Load() }

// Apply swaps in reloaded settings. Auth, dedup window, token pacing,
// subscriber wait and the heartbeat schedule take effect immediately; the
// listen port and primary node only on restart.
func (s *Server) Apply(cfg config.GatewayConfig) error {
	old := s.Settings()
	if cfg.Heartbeat != old.Heartbeat {
		if err := s.heartbeat.reschedule(cfg.Heartbeat, s.beat); err != nil {
			return err
		}
	}
	s.settings.Store(&cfg)
	if cfg.Port != old.Port || cfg.PrimaryNode != old.PrimaryNode {
		slog.Warn("gateway port and primary node apply on restart",
			"port", old.Port, "configuredPort", cfg.Port,
			"primaryNode", old.PrimaryNode, "configuredPrimaryNode", cfg.PrimaryNode)
	}
	slog.Info("gateway settings applied",
		"auth", cfg.Auth.Token != "", "dedupTTL", cfg.DedupTTL, "tokenDelay", cfg.TokenDelay,
		"subscriberWait", cfg.SubscriberWait, "heartbeat", cfg.Heartbeat)
	return nil
}

// Engine returns the HTTP handler, building it on first use.
func (s *Server) Engine() *gin.Engine {
	s.engineOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
		engine := gin.New()
		engine.Use(gin.Recovery())

		engine.GET("/health", s.ginHealth)
		engine.GET("/ws/:threadID", s.ginWebSocket)
		engine.GET("/preview/sdk.js", s.ginPreviewSDK)
		s.registerAPIRoutes(engine)
		s.engine = engine
	})
	return s.engine
}

// Start begins listening for connections and runs the heartbeat until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	stopHeartbeat, err := s.startHeartbeat()
	if err != nil {
		return err
	}
	defer stopHeartbeat()

	port := s.Settings().Port
	addr := fmt.Sprintf(":%d", port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Engine(),
	}

	slog.Info("analystdesk workflow backend starting", "port", port)
	slog.Info("endpoints",
		"stream", fmt.Sprintf("http://localhost:%d%s/chat/stream", port, apiPrefix),
		"socket", fmt.Sprintf("ws://localhost:%d/ws/{thread}", port))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) ginHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startAt).String(),
		"clients": s.Conns.ClientCount(),
	})
}

func (s *Server) ginPreviewSDK(c *gin.Context) {
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", previewSDK)
}

func (s *Server) ginWebSocket(c *gin.Context) {
	if !s.authenticate(requestToken(c)) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	threadID := c.Param("threadID")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := &Conn{
		ID:          "conn_" + uuid.NewString(),
		ThreadID:    threadID,
		WS:          ws,
		ConnectedAt: time.Now(),
	}
	s.Conns.Add(conn)
	defer s.Conns.Remove(conn.ID)

	slog.Info("socket subscribed", "id", conn.ID, "thread", threadID)

	// Sockets are publish-only; reading just detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			slog.Debug("socket closed", "id", conn.ID, "error", err)
			return
		}
	}
}

func requestToken(c *gin.Context) string {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	return token
}

func (s *Server) authenticate(token string) bool {
	expected := s.Settings().Auth.Token
	if expected == "" {
		return true // no auth configured
	}
	return token == expected
}
