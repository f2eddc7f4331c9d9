package export

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/piwi3910/slabnest/internal/model"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// maxPreviewPixels caps the longest side of a rendered preview.
const maxPreviewPixels = 4096

// RenderPNG rasterizes an SVG preview onto a white background. scale is
// pixels per SVG unit (mm); the result is clamped to maxPreviewPixels.
func RenderPNG(w io.Writer, svgDoc io.Reader, scale float64) error {
	icon, err := oksvg.ReadIconStream(svgDoc)
	if err != nil {
		return fmt.Errorf("failed to parse SVG: %w", err)
	}

	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if !(vw > 0) || !(vh > 0) {
		return fmt.Errorf("SVG has no usable viewBox (%gx%g)", vw, vh)
	}
	if !(scale > 0) {
		scale = 1
	}
	if longest := math.Max(vw, vh) * scale; longest > maxPreviewPixels {
		scale *= maxPreviewPixels / longest
	}

	pw := int(math.Max(1, math.Round(vw*scale)))
	ph := int(math.Max(1, math.Round(vh*scale)))

	img := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	icon.SetTarget(0, 0, float64(pw), float64(ph))
	scanner := rasterx.NewScannerGV(pw, ph, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(pw, ph, scanner), 1)

	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}

// PreviewPNG renders the layout's SVG preview straight to PNG.
func PreviewPNG(w io.Writer, result model.PackingResult, sheet model.SheetSpec, scale float64) error {
	var buf bytes.Buffer
	if err := WriteSVG(&buf, result, sheet); err != nil {
		return err
	}
	return RenderPNG(w, &buf, scale)
}
