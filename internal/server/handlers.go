package server

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/piwi3910/slabnest/internal/export"
	"github.com/piwi3910/slabnest/internal/gcode"
	"github.com/piwi3910/slabnest/internal/importer"
	"github.com/piwi3910/slabnest/internal/model"
	"github.com/piwi3910/slabnest/internal/pipeline"
)

// renderer writes one output document for a finished nesting run.
type renderer func(c *gin.Context, req nestRequest, report pipeline.Report) error

// withWorkspace runs fn with a fresh temporary directory holding the
// request's uploads, removed once fn returns.
func (s *Server) withWorkspace(c *gin.Context, fn func(req nestRequest)) {
	dir, err := os.MkdirTemp(s.cfg.WorkDir, "slabnest-req-")
	if err != nil {
		fail(c, err)
		return
	}
	defer os.RemoveAll(dir)

	req, err := s.parseRequest(c, dir)
	if err != nil {
		fail(c, err)
		return
	}
	fn(req)
}

// handleNest runs the pipeline and answers with the document produced by r.
func (s *Server) handleNest(r renderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.withWorkspace(c, func(req nestRequest) {
			report, err := pipeline.Run(c.Request.Context(), req.drawings, req.sheet, req.opts)
			if err != nil {
				fail(c, err)
				return
			}

			c.Header(HeaderRequested, strconv.Itoa(report.Requested))
			c.Header(HeaderPlaced, strconv.Itoa(report.Placed()))
			c.Header(HeaderSkipped, strconv.Itoa(report.SkippedEntities()))
			log.Printf("[slabnest] %s: %d drawings, %d requested, %d placed, %d skipped entities",
				c.FullPath(), len(req.drawings), report.Requested, report.Placed(), report.SkippedEntities())

			if err := r(c, req, report); err != nil {
				fail(c, err)
			}
		})
	}
}

func (s *Server) handleCompare(c *gin.Context) {
	s.withWorkspace(c, func(req nestRequest) {
		results, diags, err := pipeline.Compare(c.Request.Context(), req.drawings, req.sheet, req.steps, req.opts)
		if err != nil {
			fail(c, err)
			return
		}
		log.Printf("[slabnest] %s: %d drawings, %d rotation steps", c.FullPath(), len(req.drawings), len(results))
		c.JSON(http.StatusOK, gin.H{"results": results, "diagnostics": diags})
	})
}

func renderDXF(c *gin.Context, _ nestRequest, report pipeline.Report) error {
	data, err := export.DXFBytes(report.Result)
	if err != nil {
		return err
	}
	c.Header("Content-Disposition", `attachment; filename="nested_output.dxf"`)
	c.Data(http.StatusOK, "application/dxf", data)
	return nil
}

func renderSVG(c *gin.Context, req nestRequest, report pipeline.Report) error {
	var buf bytes.Buffer
	if err := export.WriteSVG(&buf, report.Result, req.sheet); err != nil {
		return err
	}
	c.Data(http.StatusOK, "image/svg+xml", buf.Bytes())
	return nil
}

func renderPNG(c *gin.Context, req nestRequest, report pipeline.Report) error {
	var buf bytes.Buffer
	if err := export.PreviewPNG(&buf, report.Result, req.sheet, req.scale); err != nil {
		return err
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
	return nil
}

func renderReport(c *gin.Context, req nestRequest, report pipeline.Report) error {
	var buf bytes.Buffer
	info := export.ReportInfo{
		Title:     "slabnest layout",
		Requested: report.Requested,
		Skipped:   report.SkippedEntities(),
	}
	if err := export.WritePDF(&buf, report.Result, req.sheet, info); err != nil {
		return err
	}
	c.Header("Content-Disposition", `attachment; filename="nest_report.pdf"`)
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
	return nil
}

func renderLabels(c *gin.Context, _ nestRequest, report pipeline.Report) error {
	var buf bytes.Buffer
	if err := export.WriteLabels(&buf, report.Result); err != nil {
		return err
	}
	c.Header("Content-Disposition", `attachment; filename="nest_labels.pdf"`)
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
	return nil
}

func (s *Server) renderGCode(c *gin.Context, req nestRequest, report pipeline.Report) error {
	settings := s.cfg.Cut
	if req.profile != "" {
		settings.GCodeProfile = req.profile
	}
	code := gcode.New(settings, s.profiles...).GenerateLayout(report.Result, req.sheet)
	stats := gcode.Measure(code)
	c.Header(HeaderCutLength, strconv.FormatFloat(stats.CutLength, 'f', 1, 64))
	c.Header(HeaderCutTime, strconv.FormatFloat(stats.CutTime, 'f', 2, 64))
	c.Header("Content-Disposition", `attachment; filename="nested_output.nc"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(code))
	return nil
}

// fail answers with a JSON error and the status matching err.
func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[slabnest] %s: %v", c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidSheet),
		errors.Is(err, pipeline.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrUnreadableDrawing),
		errors.Is(err, export.ErrNothingPlaced):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
