// Package server exposes the relay over HTTP for running outside Lambda.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jarrod-lowe/rally-relay/internal/relay"
)

// MaxBodyBytes caps webhook bodies. Providers inline attachments as base64.
const MaxBodyBytes = 40 << 20

// Handler processes one webhook delivery.
type Handler interface {
	Handle(ctx context.Context, req relay.Request) relay.Result
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps the gin engine serving the webhook.
type Server struct {
	engine *gin.Engine
	logger *slog.Logger
}

// New builds the router. db may be nil, in which case /health only reports
// that the process is up.
func New(h Handler, db Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		if db != nil {
			if err := db.Ping(c.Request.Context()); err != nil {
				logger.WarnContext(c.Request.Context(), "Health check failed", slog.String("error", err.Error()))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/inbound", func(c *gin.Context) {
			body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					c.JSON(http.StatusRequestEntityTooLarge, relay.Response{Error: "Payload too large"})
					return
				}
				c.JSON(http.StatusBadRequest, relay.Response{Error: "Invalid payload: " + err.Error()})
				return
			}

			result := h.Handle(c.Request.Context(), relay.Request{
				Authorization: c.GetHeader("Authorization"),
				Body:          body,
				ReceivedAt:    time.Now(),
			})
			c.JSON(result.Status, result.Body)
		})
	}

	return &Server{engine: r, logger: logger}
}

// Handler returns the traced HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "rally-relay")
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
