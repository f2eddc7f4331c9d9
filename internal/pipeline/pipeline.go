// Package pipeline ties extraction and nesting together: every drawing is
// read, its outlines become parts with the drawing's quantity, and the
// concatenated parts are nested on one sheet.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/piwi3910/slabnest/internal/engine"
	"github.com/piwi3910/slabnest/internal/importer"
	"github.com/piwi3910/slabnest/internal/model"
)

// ErrInvalidQuantity is returned for a drawing with a negative quantity.
var ErrInvalidQuantity = errors.New("invalid quantity")

// Drawing is one input file and the number of copies of each of its
// outlines to cut.
type Drawing struct {
	Path     string
	Name     string // Label prefix; defaults to the file name without extension
	Quantity int
}

func (d Drawing) label() string {
	if d.Name != "" {
		return d.Name
	}
	base := filepath.Base(d.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Options controls extraction for every drawing in a run.
type Options struct {
	Mode string // model.ExtractStrict or model.ExtractExtended
}

// Diagnostic reports what extraction found in one drawing.
type Diagnostic struct {
	Drawing  string                   `json:"drawing"`
	Outlines int                      `json:"outlines"`
	Skipped  []importer.SkippedEntity `json:"skipped"`
}

// Report is the outcome of a run.
type Report struct {
	Result      model.PackingResult
	Parts       []model.Part
	Diagnostics []Diagnostic
	Requested   int // Instances handed to the engine
}

// Placed returns how many instances made it onto the sheet.
func (r Report) Placed() int {
	return len(r.Result.Placements)
}

// SkippedEntities totals the skipped entities over all drawings.
func (r Report) SkippedEntities() int {
	n := 0
	for _, d := range r.Diagnostics {
		n += len(d.Skipped)
	}
	return n
}

// Collect extracts the outlines of every drawing, in input order, and turns
// each outline into a part carrying the drawing's quantity. An unreadable
// drawing aborts the whole collection.
func Collect(ctx context.Context, drawings []Drawing, opts Options) ([]model.Part, []Diagnostic, error) {
	parts := []model.Part{}
	diags := make([]Diagnostic, 0, len(drawings))

	for i, d := range drawings {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if d.Quantity < 0 {
			return nil, nil, fmt.Errorf("drawing %d (%s): %w: %d", i+1, d.label(), ErrInvalidQuantity, d.Quantity)
		}

		ext, err := importer.ExtractFile(d.Path, importer.Options{Mode: opts.Mode})
		if err != nil {
			return nil, nil, fmt.Errorf("drawing %d: %w", i+1, err)
		}

		name := d.label()
		for j, outline := range ext.Outlines {
			label := name
			if len(ext.Outlines) > 1 {
				label = fmt.Sprintf("%s#%d", name, j+1)
			}
			p := model.NewPart(label, outline, d.Quantity)
			p.Source = name
			parts = append(parts, p)
		}

		skipped := ext.Skipped
		if skipped == nil {
			skipped = []importer.SkippedEntity{}
		}
		diags = append(diags, Diagnostic{Drawing: name, Outlines: len(ext.Outlines), Skipped: skipped})
	}
	return parts, diags, nil
}

// Run extracts every drawing and nests the parts on the sheet. The sheet is
// validated before any drawing is read.
func Run(ctx context.Context, drawings []Drawing, sheet model.SheetSpec, opts Options) (Report, error) {
	if err := sheet.Validate(); err != nil {
		return Report{}, err
	}

	parts, diags, err := Collect(ctx, drawings, opts)
	if err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	result, err := engine.Nest(sheet, parts)
	if err != nil {
		return Report{}, err
	}

	requested := 0
	for _, p := range parts {
		requested += p.Quantity
	}

	return Report{
		Result:      result,
		Parts:       parts,
		Diagnostics: diags,
		Requested:   requested,
	}, nil
}

// Compare extracts every drawing once and nests the parts for each rotation
// step.
func Compare(ctx context.Context, drawings []Drawing, sheet model.SheetSpec, steps []int, opts Options) ([]engine.ComparisonResult, []Diagnostic, error) {
	if err := sheet.Validate(); err != nil {
		return nil, nil, err
	}

	parts, diags, err := Collect(ctx, drawings, opts)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	results, err := engine.CompareRotationSteps(sheet, parts, steps)
	if err != nil {
		return nil, nil, err
	}
	return results, diags, nil
}
