package export

import (
	"fmt"
	"io"

	svg "github.com/ajstarks/svgo/float"
	"github.com/piwi3910/slabnest/internal/model"
)

// PolygonStyle is applied to every placed outline in the SVG preview.
const PolygonStyle = "fill:none;stroke:black"

// WriteSVG writes a preview sized sheet.Width x sheet.Height with one
// unfilled polygon per placement. Sheet coordinates have Y up; SVG has Y
// down, so every vertex is emitted as (x, sheet.Height - y).
func WriteSVG(w io.Writer, result model.PackingResult, sheet model.SheetSpec) error {
	ew := &errWriter{w: w}
	canvas := svg.New(ew)

	canvas.Start(sheet.Width, sheet.Height,
		fmt.Sprintf(`viewBox="0 0 %s %s"`, formatCoord(sheet.Width), formatCoord(sheet.Height)))
	for _, p := range result.Placements {
		if len(p.Outline) == 0 {
			continue
		}
		xs, ys := flipY(p.Outline, sheet.Height)
		canvas.Polygon(xs, ys, PolygonStyle)
	}
	canvas.End()

	if ew.err != nil {
		return fmt.Errorf("failed to write SVG: %w", ew.err)
	}
	return nil
}

// flipY converts an outline to SVG coordinate slices.
func flipY(o model.Outline, height float64) (xs, ys []float64) {
	xs = make([]float64, len(o))
	ys = make([]float64, len(o))
	for i, pt := range o {
		xs[i] = pt.X
		ys[i] = height - pt.Y
	}
	return xs, ys
}

func formatCoord(v float64) string {
	return fmt.Sprintf("%g", v)
}

// errWriter keeps the first write error; the svgo canvas does not report them.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return len(p), nil
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
