// Package gcode turns a nested layout into a profile cutting program and
// reads such programs back for statistics.
package gcode

import (
	"fmt"
	"math"
	"strings"

	"github.com/piwi3910/slabnest/internal/model"
)

// Generator produces GCode from a nested sheet layout.
type Generator struct {
	Settings model.CutSettings
	profile  model.GCodeProfile
}

// New returns a Generator for the profile named in settings. Custom profiles
// take precedence over built-in ones with the same name.
func New(settings model.CutSettings, custom ...model.GCodeProfile) *Generator {
	return &Generator{
		Settings: settings,
		profile:  model.ResolveProfile(settings.GCodeProfile, custom),
	}
}

// GenerateLayout produces a GCode program that cuts every placed outline,
// in placement order, in one or more depth passes.
func (g *Generator) GenerateLayout(result model.PackingResult, sheet model.SheetSpec) string {
	var b strings.Builder

	g.writeHeader(&b, result, sheet)

	for i, placement := range result.Placements {
		g.writePart(&b, placement, i+1)
	}

	g.writeFooter(&b)
	return b.String()
}

func (g *Generator) writeHeader(b *strings.Builder, result model.PackingResult, sheet model.SheetSpec) {
	p := g.profile

	b.WriteString(g.comment("slabnest GCode"))
	b.WriteString(g.comment(fmt.Sprintf("Sheet: %.1f x %.1f mm, gap %.1f mm", sheet.Width, sheet.Height, sheet.Gap)))
	b.WriteString(g.comment(fmt.Sprintf("Parts: %d, Efficiency: %.1f%%", len(result.Placements), result.Efficiency(sheet))))
	b.WriteString(g.comment(fmt.Sprintf("Tool: %.1fmm, Feed: %.0f mm/min, Plunge: %.0f mm/min",
		g.Settings.ToolDiameter, g.Settings.FeedRate, g.Settings.PlungeRate)))
	b.WriteString(g.comment(fmt.Sprintf("Depth: %.1fmm in %.1fmm passes", g.Settings.CutDepth, g.Settings.PassDepth)))
	b.WriteString(g.comment(fmt.Sprintf("Profile: %s", p.Name)))
	b.WriteString("\n")

	for _, code := range p.StartCode {
		b.WriteString(code + "\n")
	}

	if p.SpindleStart != "" {
		b.WriteString(fmt.Sprintf(p.SpindleStart+"\n", g.Settings.SpindleSpeed))
	}

	// Retract before the first rapid so nothing drags across the stock
	b.WriteString(fmt.Sprintf("%s Z%s\n", p.RapidMove, g.format(g.Settings.SafeZ)))
	b.WriteString(fmt.Sprintf("%s X%s Y%s\n", p.RapidMove, g.format(0), g.format(0)))

	b.WriteString("\n")
}

func (g *Generator) writeFooter(b *strings.Builder) {
	p := g.profile

	b.WriteString("\n")
	b.WriteString(g.comment("=== Job complete ==="))

	for _, code := range p.EndCode {
		code = strings.ReplaceAll(code, "[SafeZ]", g.format(g.Settings.SafeZ))
		b.WriteString(code + "\n")
	}

	if p.SpindleStop != "" {
		b.WriteString(p.SpindleStop + "\n")
	}
}

// writePart follows the placed outline. With OffsetTool the path runs
// outside the outline by the tool radius so the part keeps its size.
func (g *Generator) writePart(b *strings.Builder, p model.Placement, partNum int) {
	b.WriteString(g.comment(fmt.Sprintf("--- Part %d: %s (%.1f x %.1f)%s ---",
		partNum, p.Label, p.Width, p.Height, rotatedStr(p.Angle))))

	if len(p.Outline) < 3 {
		b.WriteString(g.comment("WARNING: outline has fewer than 3 points, skipping"))
		return
	}

	path := g.orientPath(p.Outline)
	if g.Settings.OffsetTool && g.Settings.ToolDiameter > 0 {
		path = offsetOutline(path, g.Settings.ToolDiameter/2.0)
	}

	passes := g.passDepths()
	for pass, depth := range passes {
		b.WriteString(g.comment(fmt.Sprintf("Pass %d/%d, depth=%.2fmm", pass+1, len(passes), depth)))

		b.WriteString(fmt.Sprintf("%s X%s Y%s\n", g.profile.RapidMove,
			g.format(path[0].X), g.format(path[0].Y)))
		b.WriteString(fmt.Sprintf("%s Z%s F%s\n", g.profile.FeedMove,
			g.format(-depth), g.format(g.Settings.PlungeRate)))

		for i := 1; i < len(path); i++ {
			b.WriteString(fmt.Sprintf("%s X%s Y%s F%s\n", g.profile.FeedMove,
				g.format(path[i].X), g.format(path[i].Y),
				g.format(g.Settings.FeedRate)))
		}
		// Close the loop back to the first point
		b.WriteString(fmt.Sprintf("%s X%s Y%s F%s\n", g.profile.FeedMove,
			g.format(path[0].X), g.format(path[0].Y),
			g.format(g.Settings.FeedRate)))

		b.WriteString(fmt.Sprintf("%s Z%s\n", g.profile.RapidMove, g.format(g.Settings.SafeZ)))
	}

	b.WriteString("\n")
}

// orientPath returns the outline in cutting direction. Cutting outside a
// part with a clockwise spindle is climb milling when the path runs
// clockwise, conventional when it runs counter-clockwise.
func (g *Generator) orientPath(o model.Outline) model.Outline {
	if o.Clockwise() != g.Settings.UseClimb {
		return o.Reversed()
	}
	return o
}

// passDepths lists the cumulative depth of each pass, ending exactly at
// CutDepth.
func (g *Generator) passDepths() []float64 {
	total := g.Settings.CutDepth
	step := g.Settings.PassDepth
	if step <= 0 || step >= total {
		return []float64{total}
	}

	numPasses := int(math.Ceil(total / step))
	depths := make([]float64, 0, numPasses)
	for pass := 1; pass <= numPasses; pass++ {
		depth := float64(pass) * step
		if depth > total {
			depth = total
		}
		depths = append(depths, depth)
	}
	return depths
}

// offsetOutline moves every vertex outward by dist. The outward side of an
// edge depends on winding; corners are mitred so straight edges stay
// exactly dist away, with the miter capped at twice dist for sharp spikes.
func offsetOutline(outline model.Outline, dist float64) model.Outline {
	n := len(outline)
	if n < 3 {
		return outline
	}

	// Left normals point outward for clockwise outlines.
	sign := 1.0
	if !outline.Clockwise() {
		sign = -1.0
	}

	result := make(model.Outline, n)
	for i := 0; i < n; i++ {
		prev := outline[(i-1+n)%n]
		curr := outline[i]
		next := outline[(i+1)%n]

		n1x, n1y := normalize(-(curr.Y-prev.Y)*sign, (curr.X-prev.X)*sign)
		n2x, n2y := normalize(-(next.Y-curr.Y)*sign, (next.X-curr.X)*sign)

		nx, ny := normalize(n1x+n2x, n1y+n2y)
		if nx == 0 && ny == 0 {
			nx, ny = n1x, n1y
		}

		var scale float64
		if cos := nx*n1x + ny*n1y; cos > 0.5 {
			scale = dist / cos
		} else {
			scale = dist * 2
		}

		result[i] = model.Point2D{
			X: curr.X + nx*scale,
			Y: curr.Y + ny*scale,
		}
	}
	return result
}

// comment wraps text in the profile's comment syntax.
func (g *Generator) comment(text string) string {
	return g.profile.CommentPrefix + " " + text + g.profile.CommentSuffix + "\n"
}

// format formats a coordinate according to the profile's decimal places.
func (g *Generator) format(v float64) string {
	return fmt.Sprintf("%.*f", g.profile.DecimalPlaces, v)
}

func rotatedStr(angle int) string {
	if angle != 0 {
		return fmt.Sprintf(" [rotated %d]", angle)
	}
	return ""
}

// normalize returns a unit vector in the given direction.
func normalize(x, y float64) (float64, float64) {
	length := math.Sqrt(x*x + y*y)
	if length < 1e-9 {
		return 0, 0
	}
	return x / length, y / length
}
