package gcode

import (
	"math"
	"strings"
	"testing"

	"github.com/piwi3910/slabnest/internal/model"
)

// newTestSettings returns CutSettings suitable for testing with predictable output.
func newTestSettings() model.CutSettings {
	s := model.DefaultSettings()
	s.ToolDiameter = 6.0
	s.FeedRate = 1000.0
	s.PlungeRate = 300.0
	s.SpindleSpeed = 12000
	s.SafeZ = 5.0
	s.CutDepth = 6.0
	s.PassDepth = 6.0
	s.GCodeProfile = "Generic"
	return s
}

var testSheet = model.SheetSpec{Width: 500, Height: 300, Gap: 5, RotationStep: 90}

func squarePlacement(x, y, side float64) model.Placement {
	return model.Placement{
		PartID: "test1",
		Label:  "TestPart",
		X:      x, Y: y, Width: side, Height: side,
		Outline: model.Outline{{X: x, Y: y}, {X: x + side, Y: y}, {X: x + side, Y: y + side}, {X: x, Y: y + side}},
	}
}

func newTestResult() model.PackingResult {
	return model.PackingResult{Placements: []model.Placement{squarePlacement(10, 10, 100)}}
}

// firstPassPath collects the XY points of the first closed feed loop.
func firstPassPath(moves []Move) model.Outline {
	var path model.Outline
	cutting := false
	for _, m := range moves {
		switch m.Kind {
		case Plunge:
			cutting = true
			path = append(path, model.Point2D{X: m.To.X, Y: m.To.Y})
		case Cut:
			if cutting {
				path = append(path, model.Point2D{X: m.To.X, Y: m.To.Y})
			}
		case Retract, Rapid:
			if cutting {
				// Drop the closing point, which repeats the start.
				return path[:len(path)-1]
			}
		}
	}
	return path
}

func TestGenerateLayout_HeaderAndFooter(t *testing.T) {
	gen := New(newTestSettings())
	code := gen.GenerateLayout(newTestResult(), testSheet)

	for _, want := range []string{"; slabnest GCode", "; Profile: Generic", "G90", "G21", "M3 S12000", "M5", "M2"} {
		if !strings.Contains(code, want) {
			t.Errorf("expected %q in output", want)
		}
	}
	if !strings.Contains(code, "; Sheet: 500.0 x 300.0 mm") {
		t.Error("expected sheet size in header")
	}
	if strings.Index(code, "M3 S12000") > strings.Index(code, "--- Part 1") {
		t.Error("spindle must start before the first part")
	}
}

func TestGenerateLayout_MultiplePasses(t *testing.T) {
	settings := newTestSettings()
	settings.CutDepth = 18
	settings.PassDepth = 6
	gen := New(settings)
	code := gen.GenerateLayout(newTestResult(), testSheet)

	if !strings.Contains(code, "Pass 1/3, depth=6.00mm") || !strings.Contains(code, "Pass 3/3, depth=18.00mm") {
		t.Errorf("expected three passes down to 18mm:\n%s", code)
	}
	if !strings.Contains(code, "G1 Z-18.000 F300.000") {
		t.Error("expected final plunge to full depth")
	}

	stats := Measure(code)
	if stats.Plunges != 3 {
		t.Errorf("expected 3 plunges, got %d", stats.Plunges)
	}
	if stats.MinZ != -18 {
		t.Errorf("expected min Z -18, got %.3f", stats.MinZ)
	}
}

func TestGenerateLayout_OneLoopPerPlacement(t *testing.T) {
	result := model.PackingResult{Placements: []model.Placement{
		squarePlacement(10, 10, 50),
		squarePlacement(10, 70, 50),
		squarePlacement(10, 130, 50),
	}}
	gen := New(newTestSettings())
	code := gen.GenerateLayout(result, testSheet)

	if n := strings.Count(code, "--- Part "); n != 3 {
		t.Errorf("expected 3 part sections, got %d", n)
	}
	stats := Measure(code)
	if stats.Plunges != 3 {
		t.Errorf("expected 3 plunges, got %d", stats.Plunges)
	}
	// Each 50mm square offset by 3mm is cut as a 56mm square.
	if math.Abs(stats.CutLength-3*4*56) > 0.01 {
		t.Errorf("expected cut length %.1f, got %.3f", 3.0*4*56, stats.CutLength)
	}
}

func TestGenerateLayout_ToolOffsetOutside(t *testing.T) {
	gen := New(newTestSettings())
	moves := Parse(gen.GenerateLayout(newTestResult(), testSheet))
	path := firstPassPath(moves)

	if len(path) != 4 {
		t.Fatalf("expected 4 path corners, got %d: %v", len(path), path)
	}
	min, max := path.BoundingBox()
	if math.Abs(min.X-7) > 1e-3 || math.Abs(min.Y-7) > 1e-3 || math.Abs(max.X-113) > 1e-3 || math.Abs(max.Y-113) > 1e-3 {
		t.Errorf("expected path offset 3mm outside the part, got %v..%v", min, max)
	}
}

func TestGenerateLayout_NoOffset(t *testing.T) {
	settings := newTestSettings()
	settings.OffsetTool = false
	gen := New(settings)
	path := firstPassPath(Parse(gen.GenerateLayout(newTestResult(), testSheet)))

	min, max := path.BoundingBox()
	if min.X != 10 || min.Y != 10 || max.X != 110 || max.Y != 110 {
		t.Errorf("expected path on the outline, got %v..%v", min, max)
	}
}

func TestGenerateLayout_ClimbDirection(t *testing.T) {
	climb := newTestSettings()
	climb.UseClimb = true
	path := firstPassPath(Parse(New(climb).GenerateLayout(newTestResult(), testSheet)))
	if !path.Clockwise() {
		t.Error("climb milling an outside profile should run clockwise")
	}

	conventional := newTestSettings()
	conventional.UseClimb = false
	path = firstPassPath(Parse(New(conventional).GenerateLayout(newTestResult(), testSheet)))
	if path.Clockwise() {
		t.Error("conventional milling an outside profile should run counter-clockwise")
	}
}

func TestGenerateLayout_LinuxCNCComments(t *testing.T) {
	settings := newTestSettings()
	settings.GCodeProfile = "LinuxCNC"
	code := New(settings).GenerateLayout(newTestResult(), testSheet)

	if !strings.Contains(code, "( slabnest GCode )") {
		t.Error("expected parenthesised comments for LinuxCNC")
	}
	if !strings.Contains(code, "G94") {
		t.Error("expected LinuxCNC start code")
	}
	if !strings.Contains(code, "X7.0000") {
		t.Error("expected four decimal places")
	}
}

func TestGenerateLayout_EmptyLayout(t *testing.T) {
	code := New(newTestSettings()).GenerateLayout(model.PackingResult{}, testSheet)
	if strings.Contains(code, "--- Part") {
		t.Error("expected no part sections")
	}
	if !strings.Contains(code, "M2") {
		t.Error("expected a complete program even with nothing to cut")
	}
}

func TestGenerateLayout_DegenerateOutline(t *testing.T) {
	result := model.PackingResult{Placements: []model.Placement{{
		Label:   "Sliver",
		Outline: model.Outline{{X: 0, Y: 0}, {X: 1, Y: 1}},
	}}}
	code := New(newTestSettings()).GenerateLayout(result, testSheet)
	if !strings.Contains(code, "WARNING: outline has fewer than 3 points") {
		t.Error("expected warning for degenerate outline")
	}
}

func TestPassDepths(t *testing.T) {
	s := newTestSettings()
	s.CutDepth = 10
	s.PassDepth = 4
	got := New(s).passDepths()
	want := []float64{4, 8, 10}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pass %d: expected %.1f, got %.1f", i, want[i], got[i])
		}
	}

	s.PassDepth = 0
	if got := New(s).passDepths(); len(got) != 1 || got[0] != 10 {
		t.Errorf("zero pass depth should cut in one pass, got %v", got)
	}
}

func TestOffsetOutline_Winding(t *testing.T) {
	ccw := model.Outline{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	for _, o := range []model.Outline{ccw, ccw.Reversed()} {
		off := offsetOutline(o, 2)
		min, max := off.BoundingBox()
		if math.Abs(min.X+2) > 1e-9 || math.Abs(min.Y+2) > 1e-9 || math.Abs(max.X-12) > 1e-9 || math.Abs(max.Y-12) > 1e-9 {
			t.Errorf("clockwise=%v: expected -2..12 bounds, got %v..%v", o.Clockwise(), min, max)
		}
	}
}

func TestNew_CustomProfileOverridesBuiltIn(t *testing.T) {
	custom := model.GCodeProfile{
		Name:          "Generic",
		StartCode:     []string{"G90", "G21", "G54"},
		SpindleStart:  "M3 S%d",
		SpindleStop:   "M5",
		RapidMove:     "G0",
		FeedMove:      "G1",
		EndCode:       []string{"M30"},
		CommentPrefix: ";",
		DecimalPlaces: 1,
	}
	code := New(newTestSettings(), custom).GenerateLayout(newTestResult(), testSheet)

	if !strings.Contains(code, "G54") || !strings.Contains(code, "M30") {
		t.Error("expected the custom profile's start and end codes")
	}
	if !strings.Contains(code, "X7.0 Y113.0") {
		t.Error("expected one decimal place from the custom profile")
	}
}
