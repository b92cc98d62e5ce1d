// Package server exposes the duck.ai client over HTTP: a small JSON API that
// relays completions as server-sent events and keeps conversations, with
// their tokens, between requests.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paularlott/duckchat"
	"github.com/paularlott/duckchat/store"
)

// HeaderConversationID carries the conversation ID of a chat response
const HeaderConversationID = "X-Conversation-Id"

// Config holds configuration for the server
type Config struct {
	Client   *duckchat.Client
	Store    store.Store         // Default in-memory store
	Observer duckchat.Observer   // Receives every completion event (metrics, publishing)
	TTL      time.Duration       // Conversation lifetime (default store.DefaultTTL)
	Gatherer prometheus.Gatherer // Serves /metrics when set
	Logger   *slog.Logger        // Default discards
}

// Server relays chat completions over HTTP
type Server struct {
	client   *duckchat.Client
	store    store.Store
	observer duckchat.Observer
	ttl      time.Duration
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// New creates a server
func New(cfg Config) (*Server, error) {
	if cfg.Client == nil {
		return nil, errors.New("server: client is required")
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = store.DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		client:   cfg.Client,
		store:    cfg.Store,
		observer: cfg.Observer,
		ttl:      cfg.TTL,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
	}, nil
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())

	router.GET("/healthz", s.health)

	api := router.Group("/v1")
	{
		api.GET("/models", s.models)
		api.POST("/chat", s.chat)
	}

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
