// Package export renders packing results to the formats handed to the
// cutting shop: DXF and SVG layouts, PNG previews, PDF reports and labels.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/piwi3910/slabnest/internal/model"
	"github.com/yofu/dxf"
)

// ExportDXF writes one closed LWPOLYLINE per placement, in placement order,
// using the placed coordinates verbatim. An empty result produces a valid
// drawing with no entities.
func ExportDXF(path string, result model.PackingResult) error {
	d := dxf.NewDrawing()

	for i, p := range result.Placements {
		if len(p.Outline) == 0 {
			continue
		}
		vertices := make([][]float64, len(p.Outline))
		for j, pt := range p.Outline {
			vertices[j] = []float64{pt.X, pt.Y}
		}
		if _, err := d.LwPolyline(true, vertices...); err != nil {
			return fmt.Errorf("placement %d (%s): %w", i, p.Label, err)
		}
	}

	if err := d.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save DXF: %w", err)
	}
	return nil
}

// DXFBytes renders the layout as a DXF document in memory. The drawing is
// written through a private temporary directory that is removed on return.
func DXFBytes(result model.PackingResult) ([]byte, error) {
	dir, err := os.MkdirTemp("", "slabnest-dxf-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "layout.dxf")
	if err := ExportDXF(path, result); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
