package importer

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/piwi3910/slabnest/internal/model"
	"github.com/yofu/dxf"
	"github.com/yofu/dxf/entity"
)

// ErrUnreadableDrawing is returned when a DXF file cannot be opened or parsed
// at all. It is distinct from a readable drawing with no usable outlines.
var ErrUnreadableDrawing = errors.New("unreadable drawing")

// DrawingError wraps a failure to read a specific drawing.
type DrawingError struct {
	Path string
	Err  error
}

func (e *DrawingError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: %v", ErrUnreadableDrawing.Error(), e.Path, e.Err)
}

func (e *DrawingError) Unwrap() error { return ErrUnreadableDrawing }

// Options controls which DXF entities become outlines.
type Options struct {
	Mode string // model.ExtractStrict (default) or model.ExtractExtended
}

func (o Options) extended() bool {
	return o.Mode == model.ExtractExtended
}

// SkippedEntity records an entity that did not produce an outline.
type SkippedEntity struct {
	Index  int    `json:"index"` // Position in the drawing's entity list
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Extraction is the outcome of reading one drawing: the outlines found, in
// entity order, plus a diagnostic for every entity that was skipped.
type Extraction struct {
	Outlines []model.Outline
	Skipped  []SkippedEntity
}

// segment represents a line segment between two 2D points, used for
// chaining disconnected LINE entities into closed outlines.
type segment struct {
	start  model.Point2D
	end    model.Point2D
	entity int    // Index of the LINE or ARC the segment came from
	kind   string // "LINE" or "ARC"
}

// chain is a run of connected segments. Only closed chains become outlines.
type chain struct {
	outline model.Outline
	entity  int // Entity index of the chain's first segment
	kind    string
	closed  bool
	length  int // Entities in the chain
}

const (
	pointTolerance = 1e-9
	chainTolerance = 0.01
	minOutlineArea = 1e-9
)

// ExtractFile reads closed outlines from a DXF file.
//
// In strict mode only LWPOLYLINE entities with more than two points are
// converted; the boundary is treated as closed whether or not the close flag
// is set. Extended mode also converts circles, interpolates bulges and chains
// loose LINE/ARC segments. A file that cannot be opened returns a
// *DrawingError; entities that cannot be converted are reported in Skipped.
func ExtractFile(path string, opts Options) (ext Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			ext = Extraction{}
			err = &DrawingError{Path: path, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	if err := sniffDXF(path); err != nil {
		return Extraction{}, &DrawingError{Path: path, Err: err}
	}

	drawing, err := dxf.Open(path)
	if err != nil {
		return Extraction{}, &DrawingError{Path: path, Err: err}
	}
	return extractEntities(drawing.Entities(), opts), nil
}

// sniffDXF rejects files whose first line is not a DXF group code, such as
// binary DWG files or other uploads with the wrong extension. The parser
// itself tolerates those and would report an empty drawing.
func sniffDXF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		if _, err := strconv.Atoi(line); err != nil {
			return errors.New("not a DXF file: first line is not a group code")
		}
		return nil
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("empty file")
}

func extractEntities(entities entity.Entities, opts Options) Extraction {
	var result Extraction
	var segments []segment

	skip := func(idx int, typ, reason string) {
		result.Skipped = append(result.Skipped, SkippedEntity{Index: idx, Type: typ, Reason: reason})
	}

	for idx, ent := range entities {
		switch e := ent.(type) {
		case *entity.LwPolyline:
			outline, err := lwPolylineToOutline(e, opts.extended())
			if err != nil {
				skip(idx, "LWPOLYLINE", err.Error())
				continue
			}
			if reason := checkOutline(outline); reason != "" {
				skip(idx, "LWPOLYLINE", reason)
				continue
			}
			result.Outlines = append(result.Outlines, outline)

		case *entity.Circle:
			if !opts.extended() {
				skip(idx, "CIRCLE", "unsupported entity")
				continue
			}
			if len(e.Center) < 2 || !(e.Radius > 0) {
				skip(idx, "CIRCLE", "malformed circle")
				continue
			}
			result.Outlines = append(result.Outlines, circleToOutline(e, 64))

		case *entity.Arc:
			if !opts.extended() {
				skip(idx, "ARC", "unsupported entity")
				continue
			}
			if len(e.Circle.Center) < 2 || len(e.Angle) < 2 {
				skip(idx, "ARC", "malformed arc")
				continue
			}
			segments = append(segments, pointsToSegments(arcToPoints(e, 32), idx, "ARC")...)

		case *entity.Line:
			if !opts.extended() {
				skip(idx, "LINE", "unsupported entity")
				continue
			}
			if len(e.Start) < 2 || len(e.End) < 2 {
				skip(idx, "LINE", "malformed line")
				continue
			}
			segments = append(segments, segment{
				start:  model.Point2D{X: e.Start[0], Y: e.Start[1]},
				end:    model.Point2D{X: e.End[0], Y: e.End[1]},
				entity: idx,
				kind:   "LINE",
			})

		default:
			skip(idx, fmt.Sprintf("%T", ent), "unsupported entity")
		}
	}

	// Chained loops come after the directly converted outlines, in the
	// order their first segment appeared. A failed chain is reported at the
	// entity that started it.
	for _, c := range chainSegments(segments, chainTolerance) {
		if !c.closed {
			skip(c.entity, c.kind, fmt.Sprintf("open chain of %d entities", c.length))
			continue
		}
		if reason := checkOutline(c.outline); reason != "" {
			skip(c.entity, c.kind, "chained loop: "+reason)
			continue
		}
		result.Outlines = append(result.Outlines, c.outline)
	}

	sort.SliceStable(result.Skipped, func(i, j int) bool {
		return result.Skipped[i].Index < result.Skipped[j].Index
	})
	return result
}

// checkOutline returns a non-empty reason when an outline is not a usable
// polygon boundary.
func checkOutline(o model.Outline) string {
	if len(o) < 3 {
		return fmt.Sprintf("fewer than 3 distinct vertices (%d)", len(o))
	}
	if o.Area() < minOutlineArea {
		return "zero-area outline"
	}
	return ""
}

// lwPolylineToOutline converts a DXF LWPOLYLINE entity to an Outline.
// With bulges enabled, bulged vertices produce interpolated arc segments;
// otherwise vertices are taken verbatim.
func lwPolylineToOutline(lw *entity.LwPolyline, bulges bool) (model.Outline, error) {
	if len(lw.Vertices) <= 2 {
		return nil, fmt.Errorf("fewer than 3 vertices (%d)", len(lw.Vertices))
	}

	var outline model.Outline
	for i := 0; i < len(lw.Vertices); i++ {
		v := lw.Vertices[i]
		if len(v) < 2 {
			return nil, fmt.Errorf("malformed vertex %d", i)
		}
		current := model.Point2D{X: v[0], Y: v[1]}
		if math.IsNaN(current.X) || math.IsNaN(current.Y) || math.IsInf(current.X, 0) || math.IsInf(current.Y, 0) {
			return nil, fmt.Errorf("non-finite vertex %d", i)
		}

		bulge := 0.0
		if bulges && i < len(lw.Bulges) {
			bulge = lw.Bulges[i]
		}

		nextIdx := (i + 1) % len(lw.Vertices)
		if math.Abs(bulge) > 1e-9 && len(lw.Vertices[nextIdx]) >= 2 {
			next := model.Point2D{X: lw.Vertices[nextIdx][0], Y: lw.Vertices[nextIdx][1]}
			arcPts := bulgeArcPoints(current, next, bulge, 32)
			// The next vertex is added by its own iteration.
			outline = append(outline, arcPts[:len(arcPts)-1]...)
		} else {
			outline = append(outline, current)
		}
	}

	return outline.Distinct(pointTolerance), nil
}

// bulgeArcPoints generates points along an arc defined by two endpoints and a
// DXF bulge factor. The bulge is the tangent of 1/4 the included angle.
func bulgeArcPoints(p1, p2 model.Point2D, bulge float64, numSegments int) model.Outline {
	mx := (p1.X + p2.X) / 2
	my := (p1.Y + p2.Y) / 2
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	chordLen := math.Sqrt(dx*dx + dy*dy)
	if chordLen < 1e-9 {
		return model.Outline{p1, p2}
	}

	sagitta := math.Abs(bulge) * chordLen / 2
	radius := (chordLen*chordLen/(4*sagitta) + sagitta) / 2

	// Centre lies on the chord's perpendicular bisector, on the side
	// opposite the bulge.
	perpX := -dy / chordLen
	perpY := dx / chordLen
	dist := radius - sagitta
	if bulge > 0 {
		perpX, perpY = -perpX, -perpY
	}
	cx := mx - perpX*dist
	cy := my - perpY*dist

	startAngle := math.Atan2(p1.Y-cy, p1.X-cx)
	endAngle := math.Atan2(p2.Y-cy, p2.X-cx)
	if bulge < 0 {
		if endAngle > startAngle {
			endAngle -= 2 * math.Pi
		}
	} else if endAngle < startAngle {
		endAngle += 2 * math.Pi
	}

	pts := make(model.Outline, 0, numSegments+1)
	for i := 0; i <= numSegments; i++ {
		t := float64(i) / float64(numSegments)
		angle := startAngle + t*(endAngle-startAngle)
		pts = append(pts, model.Point2D{
			X: cx + radius*math.Cos(angle),
			Y: cy + radius*math.Sin(angle),
		})
	}
	return pts
}

// circleToOutline approximates a circle as a regular polygon.
func circleToOutline(c *entity.Circle, numSegments int) model.Outline {
	outline := make(model.Outline, numSegments)
	cx, cy, r := c.Center[0], c.Center[1], c.Radius
	for i := 0; i < numSegments; i++ {
		angle := 2 * math.Pi * float64(i) / float64(numSegments)
		outline[i] = model.Point2D{
			X: cx + r*math.Cos(angle),
			Y: cy + r*math.Sin(angle),
		}
	}
	return outline
}

// arcToPoints converts a DXF ARC entity to a series of line points.
func arcToPoints(a *entity.Arc, numSegments int) []model.Point2D {
	cx, cy := a.Circle.Center[0], a.Circle.Center[1]
	r := a.Circle.Radius

	startRad := a.Angle[0] * math.Pi / 180
	endRad := a.Angle[1] * math.Pi / 180
	if endRad <= startRad {
		endRad += 2 * math.Pi
	}

	pts := make([]model.Point2D, numSegments+1)
	for i := 0; i <= numSegments; i++ {
		t := float64(i) / float64(numSegments)
		angle := startRad + t*(endRad-startRad)
		pts[i] = model.Point2D{
			X: cx + r*math.Cos(angle),
			Y: cy + r*math.Sin(angle),
		}
	}
	return pts
}

func pointsToSegments(pts []model.Point2D, entity int, kind string) []segment {
	if len(pts) < 2 {
		return nil
	}
	segs := make([]segment, 0, len(pts)-1)
	for i := 0; i < len(pts)-1; i++ {
		segs = append(segs, segment{start: pts[i], end: pts[i+1], entity: entity, kind: kind})
	}
	return segs
}

// chainSegments connects individual segments into closed outlines.
// tolerance is the maximum distance between endpoints to consider them
// connected. Chains that do not close on themselves are returned with
// closed unset.
func chainSegments(segs []segment, tolerance float64) []chain {
	if len(segs) == 0 {
		return nil
	}

	used := make([]bool, len(segs))
	var chains []chain

	for startIdx := range segs {
		if used[startIdx] {
			continue
		}
		pts := []model.Point2D{segs[startIdx].start, segs[startIdx].end}
		used[startIdx] = true
		// Segments of one ARC count as one entity.
		lastEntity, entities := segs[startIdx].entity, 1

		for changed := true; changed; {
			changed = false
			tail := pts[len(pts)-1]
			for i, seg := range segs {
				if used[i] {
					continue
				}
				if closeTo(tail, seg.start, tolerance) {
					pts = append(pts, seg.end)
				} else if closeTo(tail, seg.end, tolerance) {
					pts = append(pts, seg.start)
				} else {
					continue
				}
				if seg.entity != lastEntity {
					lastEntity = seg.entity
					entities++
				}
				used[i] = true
				changed = true
				break
			}
		}

		c := chain{entity: segs[startIdx].entity, kind: segs[startIdx].kind, length: entities}
		if len(pts) >= 4 && closeTo(pts[0], pts[len(pts)-1], tolerance) {
			c.closed = true
			c.outline = model.Outline(pts[:len(pts)-1]).Distinct(pointTolerance)
		}
		chains = append(chains, c)
	}

	return chains
}

func closeTo(a, b model.Point2D, tolerance float64) bool {
	return math.Hypot(a.X-b.X, a.Y-b.Y) <= tolerance
}
