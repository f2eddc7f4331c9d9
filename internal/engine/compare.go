package engine

import (
	"fmt"

	"github.com/piwi3910/slabnest/internal/model"
)

// ComparisonResult holds the nesting result and computed statistics
// for a single rotation step.
type ComparisonResult struct {
	RotationStep int                 `json:"rotation_step"`
	Result       model.PackingResult `json:"-"`
	Requested    int                 `json:"requested"`
	Placed       int                 `json:"placed"`
	Dropped      int                 `json:"dropped"`
	Efficiency   float64             `json:"efficiency"` // Percent of sheet area covered
	UsedHeight   float64             `json:"used_height"`
}

// CompareRotationSteps nests the same parts once per rotation step and
// returns the results in the order the steps were given. This shows what a
// finer or coarser rotation search buys on a given job.
func CompareRotationSteps(sheet model.SheetSpec, parts []model.Part, steps []int) ([]ComparisonResult, error) {
	requested := 0
	for _, p := range parts {
		requested += p.Quantity
	}

	results := make([]ComparisonResult, 0, len(steps))
	for _, step := range steps {
		s := sheet
		s.RotationStep = step
		result, err := Nest(s, parts)
		if err != nil {
			return nil, fmt.Errorf("rotation step %d: %w", step, err)
		}

		usedHeight := 0.0
		if n := len(result.Placements); n > 0 {
			last := result.Placements[n-1]
			usedHeight = last.Y + last.Height
		}

		results = append(results, ComparisonResult{
			RotationStep: step,
			Result:       result,
			Requested:    requested,
			Placed:       len(result.Placements),
			Dropped:      requested - len(result.Placements),
			Efficiency:   result.Efficiency(s),
			UsedHeight:   usedHeight,
		})
	}

	return results, nil
}

// DefaultSteps returns the rotation steps compared when none are given:
// the configured step plus the common coarse and fine alternatives.
func DefaultSteps(current int) []int {
	steps := []int{current}
	for _, s := range []int{90, 45, 15} {
		if s != current {
			steps = append(steps, s)
		}
	}
	return steps
}
