package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidSheet is returned when sheet parameters cannot be nested on.
var ErrInvalidSheet = errors.New("invalid sheet")

// SheetError describes which sheet parameter was rejected.
type SheetError struct {
	Field string
	Msg   string
}

func (e *SheetError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s %s", ErrInvalidSheet.Error(), e.Field, e.Msg)
}

func (e *SheetError) Unwrap() error { return ErrInvalidSheet }

// Part represents a source outline together with how many copies to cut.
type Part struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Source   string  `json:"source,omitempty"` // Drawing the outline came from
	Quantity int     `json:"quantity"`
	Outline  Outline `json:"outline"`
}

func NewPart(label string, outline Outline, qty int) Part {
	return Part{
		ID:       uuid.New().String()[:8],
		Label:    label,
		Quantity: qty,
		Outline:  outline,
	}
}

// ExpandParts turns each part into Quantity independent instances of
// quantity one. Instances are part-major: every copy of the first part,
// then every copy of the second, and so on.
func ExpandParts(parts []Part) []Part {
	var expanded []Part
	for _, p := range parts {
		for i := 0; i < p.Quantity; i++ {
			cp := p
			cp.Quantity = 1
			expanded = append(expanded, cp)
		}
	}
	return expanded
}

// SheetSpec describes the stock sheet and nesting parameters.
// The sheet origin is at (0, 0) with Y increasing upward.
type SheetSpec struct {
	Width        float64 `json:"width" yaml:"width"`                 // mm
	Height       float64 `json:"height" yaml:"height"`               // mm
	Gap          float64 `json:"gap" yaml:"gap"`                     // Clearance between parts and to the sheet edge, mm
	RotationStep int     `json:"rotation_step" yaml:"rotation_step"` // Degrees between tested rotations
}

// Validate checks the sheet parameters.
func (s SheetSpec) Validate() error {
	switch {
	case !(s.Width > 0):
		return &SheetError{Field: "width", Msg: "must be positive"}
	case !(s.Height > 0):
		return &SheetError{Field: "height", Msg: "must be positive"}
	case !(s.Gap >= 0):
		return &SheetError{Field: "gap", Msg: "must not be negative"}
	case s.RotationStep < 1:
		return &SheetError{Field: "rotation_step", Msg: "must be at least 1 degree"}
	}
	return nil
}

// Angles lists the tested rotations: 0, step, 2*step, ... while below 360.
// A step of 360 or more yields only 0.
func (s SheetSpec) Angles() []int {
	if s.RotationStep < 1 {
		return []int{0}
	}
	angles := make([]int, 0, 360/s.RotationStep+1)
	for a := 0; a < 360; a += s.RotationStep {
		angles = append(angles, a)
	}
	return angles
}

// Bounds returns the sheet rectangle.
func (s SheetSpec) Bounds() Rect {
	return Rect{Width: s.Width, Height: s.Height}
}

// Area returns the sheet area.
func (s SheetSpec) Area() float64 {
	return s.Width * s.Height
}

// Placement represents a single part instance placed on the sheet.
type Placement struct {
	PartID  string  `json:"part_id"`
	Label   string  `json:"label"`
	Angle   int     `json:"angle"`  // Rotation about the centroid, degrees
	X       float64 `json:"x"`      // Bounding box left edge (mm)
	Y       float64 `json:"y"`      // Bounding box bottom edge, the row baseline (mm)
	Width   float64 `json:"width"`  // Bounding box width (mm)
	Height  float64 `json:"height"` // Bounding box height (mm)
	Outline Outline `json:"outline"`
}

// PackingResult holds the placements in the order they were made.
// Instances that could not be placed are simply absent.
type PackingResult struct {
	Placements []Placement `json:"placements"`
}

// UsedArea returns the total polygon area of the placed parts.
func (r PackingResult) UsedArea() float64 {
	var total float64
	for _, p := range r.Placements {
		total += p.Outline.Area()
	}
	return total
}

// Efficiency returns the sheet usage percentage.
func (r PackingResult) Efficiency(sheet SheetSpec) float64 {
	ta := sheet.Area()
	if ta == 0 {
		return 0
	}
	return (r.UsedArea() / ta) * 100.0
}
