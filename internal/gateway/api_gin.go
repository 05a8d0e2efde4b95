package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"github.com/lhdbsbz/analystdesk/internal/stream"
	"github.com/lhdbsbz/analystdesk/internal/turn"
)

const apiPrefix = "/api"

// maxExtractBytes bounds uploads accepted by the extraction endpoint.
const maxExtractBytes = 32 << 20

func (s *Server) apiAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authenticate(requestToken(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) registerAPIRoutes(engine *gin.Engine) {
	api := engine.Group(apiPrefix, s.apiAuthMiddleware())
	api.POST("/chat/stream", s.ginAPIChatStream)
	api.POST("/chat/send", s.ginAPIChatSend)
	api.POST("/extract", s.ginAPIExtract)
}

// bindTurn decodes and validates a turn, rejecting a duplicate of one still
// being answered. The returned release ends the turn's dedup window early.
func (s *Server) bindTurn(c *gin.Context) (req turn.OutboundTurn, release func(), ok bool) {
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return req, nil, false
	}
	if req.ThreadID == "" || req.Message == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "thread_id and message required"})
		return req, nil, false
	}
	ttl := s.Settings().DedupTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	key := req.ThreadID + "\x00" + req.Message
	if err := s.dedup.Add(key, struct{}{}, ttl); err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate submission"})
		return req, nil, false
	}
	return req, func() { s.dedup.Delete(key) }, true
}

func (s *Server) ginAPIChatStream(c *gin.Context) {
	req, release, ok := s.bindTurn(c)
	if !ok {
		return
	}
	defer release()
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := c.Request.Context()
	slog.Info("streaming turn", "thread", req.ThreadID, "documents", len(req.Documents))
	for _, step := range s.Workflow(req) {
		data, err := step.SSEPayload()
		if err != nil {
			slog.Error("encode workflow event", "thread", req.ThreadID, "type", step.Type, "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		if !s.pace(ctx, step) {
			return
		}
	}
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) ginAPIChatSend(c *gin.Context) {
	req, release, ok := s.bindTurn(c)
	if !ok {
		return
	}
	go func() {
		defer release()
		s.publish(req)
	}()
	c.JSON(http.StatusOK, ackResponse{ThreadID: req.ThreadID, Status: "scheduled"})
}

// publish runs the workflow for a scheduled turn and sends its events to the
// thread's sockets. It waits a bounded time for the first subscriber, since
// the client opens its socket and submits the turn independently.
func (s *Server) publish(req turn.OutboundTurn) {
	wait := s.Settings().SubscriberWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if !s.Conns.WaitSubscriber(ctx, req.ThreadID) {
		slog.Warn("no socket for scheduled turn, dropping", "thread", req.ThreadID, "waited", wait)
		return
	}

	slog.Info("publishing turn", "thread", req.ThreadID, "documents", len(req.Documents))
	for _, step := range s.Workflow(req) {
		if s.Conns.Publish(req.ThreadID, step.Envelope()) == 0 {
			slog.Warn("socket gone mid-turn", "thread", req.ThreadID, "type", step.Type)
			return
		}
		s.pace(context.Background(), step)
	}
}

// pace sleeps between token events so clients observe incremental delivery.
func (s *Server) pace(ctx context.Context, step Step) bool {
	delay := s.Settings().TokenDelay
	if step.Type != stream.TypeToken || delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// ginAPIExtract converts an uploaded document to markdown. Text content is
// wrapped under a title heading; other formats get a placeholder summary.
func (s *Server) ginAPIExtract(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	if fh.Size > maxExtractBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var md string
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".md", ".markdown":
		md = string(raw)
	case ".txt", ".csv", ".json", "":
		md = "# " + fh.Filename + "\n\n" + string(raw)
	default:
		md = fmt.Sprintf("# %s\n\n_%d bytes of %s content_", fh.Filename, len(raw), strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
	}
	slog.Debug("document extracted", "file", fh.Filename, "bytes", len(raw))
	c.JSON(http.StatusOK, extractResponse{MarkdownContent: md})
}
