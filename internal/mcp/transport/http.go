package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/httpmw"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/events/bus"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/health"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/session"
)

const maxRequestBytes = 4 * 1024 * 1024

// HTTPServer serves JSON-RPC over a single POST endpoint plus a health
// check. Server-initiated notifications are not delivered over HTTP;
// clients poll the status tool instead.
type HTTPServer struct {
	dispatcher *mcp.Dispatcher
	manager    *session.Manager
	bus        bus.EventBus
	breaker    *health.Breaker
	log        *logger.Logger

	server *http.Server
}

// NewHTTPServer creates the HTTP transport listening on host:port.
func NewHTTPServer(dispatcher *mcp.Dispatcher, manager *session.Manager, eventBus bus.EventBus, breaker *health.Breaker, host string, port int, log *logger.Logger) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)

	s := &HTTPServer{
		dispatcher: dispatcher,
		manager:    manager,
		bus:        eventBus,
		breaker:    breaker,
		log:        log.WithFields(zap.String("component", "http-transport")),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(s.log))
	router.POST("/", s.handleRPC)
	router.GET("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP handler.
func (s *HTTPServer) Router() http.Handler {
	return s.server.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http transport listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func (s *HTTPServer) handleRPC(c *gin.Context) {
	contentType := c.GetHeader("Content-Type")
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json") {
		c.JSON(http.StatusBadRequest, gin.H{
			"jsonrpc": "2.0",
			"id":      nil,
			"error": gin.H{
				"code":    apperrors.CodeParseError,
				"message": "Content-Type must be application/json",
			},
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBytes+1))
	if err != nil || len(body) > maxRequestBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"jsonrpc": "2.0",
			"id":      nil,
			"error": gin.H{
				"code":    apperrors.CodeParseError,
				"message": "unreadable or oversized request body",
			},
		})
		return
	}

	resp := s.dispatcher.HandleMessage(c.Request.Context(), body)
	if resp == nil {
		// Notification: accepted, nothing to return.
		c.Status(http.StatusAccepted)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	payload := gin.H{
		"status":       "ok",
		"sessions":     len(s.manager.ListActive()),
		"busConnected": s.bus.IsConnected(),
		"process":      health.ReadProcessStats(),
	}
	if s.breaker != nil {
		payload["debuggerCircuit"] = gin.H{
			"state":    s.breaker.State(),
			"failures": s.breaker.Failures(),
		}
	}
	c.JSON(http.StatusOK, payload)
}
