package server

import (
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/piwi3910/slabnest/internal/engine"
	"github.com/piwi3910/slabnest/internal/model"
	"github.com/piwi3910/slabnest/internal/pipeline"
)

// ErrInvalidRequest is returned for a malformed nesting form.
var ErrInvalidRequest = errors.New("invalid request")

// ErrRequestTooLarge is returned when the upload exceeds the configured limit.
var ErrRequestTooLarge = errors.New("request too large")

// nestRequest is a parsed nesting form with its uploads saved to disk.
type nestRequest struct {
	drawings []pipeline.Drawing
	sheet    model.SheetSpec
	opts     pipeline.Options
	steps    []int
	profile  string
	scale    float64
}

// parseRequest reads the multipart form, saves every uploaded drawing into
// dir and fills omitted sheet parameters from the server defaults.
func (s *Server) parseRequest(c *gin.Context, dir string) (nestRequest, error) {
	limit := s.uploadLimit()
	if c.Request.ContentLength > limit {
		return nestRequest{}, fmt.Errorf("%w: %d bytes exceeds %d MB", ErrRequestTooLarge, c.Request.ContentLength, s.cfg.MaxUploadMB)
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nestRequest{}, fmt.Errorf("%w: upload exceeds %d MB", ErrRequestTooLarge, s.cfg.MaxUploadMB)
		}
		return nestRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	files := form.File["files"]
	if len(files) == 0 {
		return nestRequest{}, fmt.Errorf("%w: no files uploaded", ErrInvalidRequest)
	}
	quantities := form.Value["quantities"]
	if len(quantities) != len(files) {
		return nestRequest{}, fmt.Errorf("%w: got %d files but %d quantities", ErrInvalidRequest, len(files), len(quantities))
	}

	req := nestRequest{scale: 1}
	for i, fh := range files {
		qty, err := strconv.Atoi(strings.TrimSpace(quantities[i]))
		if err != nil || qty < 0 {
			return nestRequest{}, fmt.Errorf("%w: quantity %d must be a non-negative integer, got %q", ErrInvalidRequest, i+1, quantities[i])
		}

		name := uploadName(fh, i)
		dst := filepath.Join(dir, fmt.Sprintf("%02d-%s.dxf", i, name))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			return nestRequest{}, fmt.Errorf("save upload %d: %w", i+1, err)
		}
		req.drawings = append(req.drawings, pipeline.Drawing{Path: dst, Name: name, Quantity: qty})
	}

	def := s.cfg.DefaultSheet
	if req.sheet.Width, err = formFloat(form, "sheet_width", def.Width); err != nil {
		return nestRequest{}, err
	}
	if req.sheet.Height, err = formFloat(form, "sheet_height", def.Height); err != nil {
		return nestRequest{}, err
	}
	if req.sheet.Gap, err = formFloat(form, "gap", def.Gap); err != nil {
		return nestRequest{}, err
	}
	if req.sheet.RotationStep, err = formInt(form, "rotation_step", def.RotationStep); err != nil {
		return nestRequest{}, err
	}
	if req.scale, err = formFloat(form, "scale", 1); err != nil {
		return nestRequest{}, err
	}

	switch mode := formValue(form, "mode"); mode {
	case "":
		req.opts.Mode = s.cfg.ExtractMode
	case model.ExtractStrict, model.ExtractExtended:
		req.opts.Mode = mode
	default:
		return nestRequest{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, mode)
	}

	for _, raw := range form.Value["steps"] {
		for _, field := range strings.Split(raw, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			step, err := strconv.Atoi(field)
			if err != nil {
				return nestRequest{}, fmt.Errorf("%w: steps must be integers, got %q", ErrInvalidRequest, field)
			}
			req.steps = append(req.steps, step)
		}
	}
	if len(req.steps) == 0 {
		req.steps = engine.DefaultSteps(req.sheet.RotationStep)
	}

	req.profile = formValue(form, "profile")
	return req, nil
}

// uploadName derives a safe label from the uploaded file name.
func uploadName(fh *multipart.FileHeader, i int) string {
	base := filepath.Base(strings.ReplaceAll(fh.Filename, `\`, "/"))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == "/" || name == ".." {
		return fmt.Sprintf("drawing-%d", i+1)
	}
	return name
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func formFloat(form *multipart.Form, key string, def float64) (float64, error) {
	raw := formValue(form, key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidRequest, key, raw)
	}
	return v, nil
}

func formInt(form *multipart.Form, key string, def int) (int, error) {
	raw := formValue(form, key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidRequest, key, raw)
	}
	return v, nil
}
