// Package api exposes the harvest report core over a local HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"harvestreport/internal/app"
	"harvestreport/internal/logging"
)

// Handlers holds the HTTP handlers.
type Handlers struct {
	app *app.App
}

// NewHandlers creates handlers over a booted app.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(a *app.App) *gin.Engine {
	h := NewHandlers(a)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", h.HealthCheck)

	v1 := r.Group("/v1")
	{
		draft := v1.Group("/draft")
		draft.GET("", h.GetDraft)
		draft.PUT("", h.PutDraft)
		draft.DELETE("", h.ResetDraft)
		draft.PUT("/current", h.PutCurrent)
		draft.POST("/fish", h.CommitFish)
		draft.POST("/fish/:index/select", h.SelectFish)
		draft.DELETE("/fish/:index", h.RemoveFish)
		draft.PUT("/contact", h.PutContact)
		draft.PUT("/confirmation", h.PutConfirmation)
		draft.GET("/sections", h.DraftSections)
		draft.POST("/submit", h.SubmitDraft)

		v1.POST("/sections", h.Sections)
		v1.POST("/submit", h.Submit)

		v1.GET("/queue", h.ListQueue)
		v1.GET("/history", h.ListHistory)
		v1.GET("/timeline", h.Timeline)
		v1.GET("/timeline.xlsx", h.ExportTimeline)
		v1.POST("/queue/:id/retry", h.Retry)
		v1.POST("/sync", h.Sync)

		v1.GET("/badges", h.Badges)
		v1.POST("/viewed/:feature", h.MarkViewed)

		v1.GET("/profile", h.GetProfile)
		v1.PUT("/profile", h.PutProfile)
	}
	return r
}

// HealthCheck returns the service status with queue sizes.
func (h *Handlers) HealthCheck(c *gin.Context) {
	pending, submitted := h.app.Queue.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "harvestreport",
		"pending":   len(pending),
		"submitted": len(submitted),
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Get(logging.CategoryAPI).
			With("status", c.Writer.Status(), "elapsed", time.Since(start)).
			Debug("%s %s", c.Request.Method, c.FullPath())
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Get(logging.CategoryAPI).Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
