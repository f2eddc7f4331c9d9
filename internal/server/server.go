// Package server exposes the nesting pipeline over HTTP. Every request
// uploads its drawings into a private temporary workspace that is removed
// when the request ends.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/piwi3910/slabnest/internal/model"
)

// Diagnostic response headers.
const (
	HeaderRequested = "X-Slabnest-Requested"
	HeaderPlaced    = "X-Slabnest-Placed"
	HeaderSkipped   = "X-Slabnest-Skipped-Entities"

	// Toolpath totals, G-code output only.
	HeaderCutLength = "X-Slabnest-Cut-Length"
	HeaderCutTime   = "X-Slabnest-Cut-Time"
)

// Server serves nesting requests.
type Server struct {
	cfg      model.ServerConfig
	profiles []model.GCodeProfile
	router   *gin.Engine
}

// New builds a Server and its routes. profiles are custom G-code profiles
// that take precedence over the built-in ones.
func New(cfg model.ServerConfig, profiles []model.GCodeProfile) *Server {
	cfg.ApplyDefaults()
	s := &Server{cfg: cfg, profiles: profiles}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), corsMiddleware(cfg.AllowedOrigins))
	r.MaxMultipartMemory = s.uploadLimit()

	r.GET("/healthz", s.handleHealth)
	r.POST("/nest", s.handleNest(renderDXF))
	r.POST("/nest_preview", s.handleNest(renderSVG))
	r.POST("/nest/preview.png", s.handleNest(renderPNG))
	r.POST("/nest/report.pdf", s.handleNest(renderReport))
	r.POST("/nest/labels.pdf", s.handleNest(renderLabels))
	r.POST("/nest/gcode", s.handleNest(s.renderGCode))
	r.POST("/nest/compare", s.handleCompare)

	s.router = r
	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("[slabnest] listening on %s (extract mode %s, upload limit %d MB)",
		s.cfg.Addr, s.cfg.ExtractMode, s.cfg.MaxUploadMB)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Printf("[slabnest] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) uploadLimit() int64 {
	return int64(s.cfg.MaxUploadMB) << 20
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// corsMiddleware answers preflight requests and adds CORS headers for the
// allowed origins. "*" allows any origin.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	exposed := strings.Join([]string{HeaderRequested, HeaderPlaced, HeaderSkipped, HeaderCutLength, HeaderCutTime, "Content-Disposition"}, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			if allowAll {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
			c.Header("Access-Control-Expose-Headers", exposed)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
