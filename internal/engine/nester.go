// Package engine places part outlines on a sheet.
package engine

import (
	"fmt"

	"github.com/piwi3910/slabnest/internal/model"
)

// candidate is one tested (angle, x) combination that fits on the sheet.
type candidate struct {
	angle   int
	x       float64
	outline model.Outline
	width   float64 // Bounding box width without gap
	height  float64 // Bounding box height without gap
	area    float64 // (width + gap) * (height + gap)
}

// Nest places the given part instances on the sheet with a single-pass
// shelf heuristic and returns the placements in processing order.
//
// Parts are expanded by quantity first (part-major). For each instance every
// rotation in sheet.Angles() is tried about the outline's centroid at the
// first offset of the row, x = gap. The candidate with the smallest
// gap-padded bounding area wins; on equal areas the first one found is kept,
// so lower angles are preferred. Instances with no fitting candidate are
// dropped without error. Run time depends on the number of angles, never on
// the gap.
//
// Each row holds exactly one instance: the row cursor advances by the placed
// height plus gap after every placement, even when there is horizontal room
// left. Rows never overlap, which is the only thing keeping placements apart.
//
// The only error is an invalid sheet.
func Nest(sheet model.SheetSpec, parts []model.Part) (model.PackingResult, error) {
	if err := sheet.Validate(); err != nil {
		return model.PackingResult{}, fmt.Errorf("nest: %w", err)
	}

	result := model.PackingResult{Placements: []model.Placement{}}
	angles := sheet.Angles()
	bounds := sheet.Bounds()
	rowY := sheet.Gap

	for _, inst := range model.ExpandParts(parts) {
		best, ok := bestCandidate(inst.Outline, angles, bounds, sheet.Gap, rowY)
		if !ok {
			continue
		}
		result.Placements = append(result.Placements, model.Placement{
			PartID:  inst.ID,
			Label:   inst.Label,
			Angle:   best.angle,
			X:       best.x,
			Y:       rowY,
			Width:   best.width,
			Height:  best.height,
			Outline: best.outline,
		})
		rowY += best.height + sheet.Gap
	}

	return result, nil
}

// bestCandidate searches every angle for the current row. Offsets along the
// row all satisfy x + candW < W, leave the vertical placement unchanged and
// share one area, so under first-found-wins the first offset of the sweep
// decides each angle.
func bestCandidate(outline model.Outline, angles []int, bounds model.Rect, gap, rowY float64) (candidate, bool) {
	var best candidate
	found := false

	if len(outline) < 3 {
		return best, false
	}

	for _, angle := range angles {
		rotated := outline.RotateAboutCentroid(float64(angle))
		min, max := rotated.BoundingBox()
		w, h := max.X-min.X, max.Y-min.Y
		candW, candH := w+gap, h+gap
		area := candW * candH

		// First found wins: an equal area never replaces the kept candidate.
		if found && !(area < best.area) {
			continue
		}
		x, ok := firstOffset(gap, candW, bounds.Width)
		if !ok {
			continue
		}
		placed := rotated.Translate(x-min.X, rowY-min.Y)
		if !bounds.ContainsOutline(placed) {
			continue
		}
		best = candidate{angle: angle, x: x, outline: placed, width: w, height: h, area: area}
		found = true
	}

	return best, found
}

// firstOffset returns the first x of the row sweep gap, 2*gap, ... that
// keeps x + candW below the sheet width. With a zero gap the sweep would
// never advance, so only x = 0 is tested.
func firstOffset(gap, candW, sheetW float64) (float64, bool) {
	if gap <= 0 {
		return 0, candW < sheetW
	}
	return gap, gap+candW < sheetW
}
