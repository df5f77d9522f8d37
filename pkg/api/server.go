// Package api exposes a small HTTP control surface for a running session
// client: status, publishing and on-demand statistics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	"github.com/ethan/sfu-client/pkg/logger"
	"github.com/ethan/sfu-client/pkg/media"
	"github.com/ethan/sfu-client/pkg/negotiation"
	"github.com/ethan/sfu-client/pkg/session"
	"github.com/ethan/sfu-client/pkg/stats"
)

const requestTimeout = 5 * time.Second

// Client is the part of session.Client the server drives
type Client interface {
	Status(ctx context.Context) (session.Status, error)
	Publish(ctx context.Context, kind webrtc.RTPCodecType) error
	CollectStats(ctx context.Context) ([]stats.Report, error)
}

// Server provides the HTTP control API
type Server struct {
	client     Client
	logger     *logger.Logger
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(client Client, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		client: client,
		logger: log.With("component", "api"),
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.withLogging())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{"Content-Type", "Authorization"}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/stats", s.handleStats)
	api.POST("/publish/:kind", s.handlePublish)

	return router
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
			errChan <- err
		}
	}()

	// surface immediate bind errors
	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	status, err := s.client.Status(ctx)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	reports, err := s.client.CollectStats(ctx)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	if reports == nil {
		reports = []stats.Report{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *Server) handlePublish(c *gin.Context) {
	kind := webrtc.NewRTPCodecType(c.Param("kind"))
	if kind == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be video or audio"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := s.client.Publish(ctx, kind); err != nil {
		s.logger.Warn("publish failed", "kind", kind.String(), "error", err)
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"kind": kind.String(), "status": "negotiating"})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, media.ErrNoDevice):
		return http.StatusNotFound
	case errors.Is(err, negotiation.ErrAlreadySending):
		return http.StatusConflict
	case errors.Is(err, negotiation.ErrUnsupportedKind):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) withLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", c.ClientIP(),
		)
	}
}
