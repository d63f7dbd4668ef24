// Package grid enumerates the Cartesian product of perturbation parameter
// axes into concrete cells, applies the documented filters, and collapses
// parameter combinations that would otherwise duplicate the same cell.
package grid

import (
	"fmt"

	"github.com/aristath/montecarlo-stress/internal/model"
)

// Spec describes the parameter axes of the grid. Each axis is the ordered
// set of values its index can resolve to.
type Spec struct {
	PSkip          []float64
	SlipMax        []float64
	SlipUnits      model.SlipUnits
	DelayBarsMax   []int
	ShuffleModes   []model.ShuffleMode
	BootstrapModes []model.BootstrapMode
	BlockLens      []int // only meaningful when a ShuffleMode/BootstrapMode axis value needs it

	IntensityMode    model.IntensityMode
	DelaySideMode    model.DelaySideMode
	MinTrades        int
	DelayAdverseCapR float64
}

// DefaultSpec returns the axis set used when the caller does not supply one:
// a grid dense enough to exercise every perturbation family.
func DefaultSpec() Spec {
	return Spec{
		PSkip:            []float64{0, 0.05, 0.10, 0.20, 0.35},
		SlipMax:          []float64{0, 10, 25, 50, 100},
		SlipUnits:        model.SlipDollars,
		DelayBarsMax:     []int{0, 1, 2, 3},
		ShuffleModes:     []model.ShuffleMode{model.ShuffleNone, model.ShufflePermute, model.ShuffleBlockPermute},
		BootstrapModes:   []model.BootstrapMode{model.BootstrapNone, model.BootstrapTrade, model.BootstrapBlock},
		BlockLens:        []int{5, 10, 20},
		IntensityMode:    model.IntensityVolDD,
		DelaySideMode:    model.DelayBothSides,
		MinTrades:        30,
		DelayAdverseCapR: 0.5,
	}
}

// Filters narrow the enumerated grid before dispatch.
type Filters struct {
	FixedDelay      int     // -1: no filter; otherwise keep only this DelayBarsMax value
	SlipMin         float64 // -1: no filter
	SlipMax         float64 // -1: no filter
	IncludeZeroSlip bool
}

// NoFilters returns a Filters value that passes every cell through.
func NoFilters() Filters {
	return Filters{FixedDelay: -1, SlipMin: -1, SlipMax: -1, IncludeZeroSlip: true}
}

// blockRelevant reports whether a cell's shuffle/bootstrap selection actually
// consults BlockLen.
func blockRelevant(shuffle model.ShuffleMode, bootstrap model.BootstrapMode) bool {
	return shuffle == model.ShuffleBlockPermute || bootstrap == model.BootstrapBlock
}

// Cell is one enumerated grid point: its canonical key and the concrete
// parameters that key resolves to.
type Cell struct {
	Key    model.CellKey
	Params model.CellParams
}

// ID returns the canonical string form of the cell's key:
// "<a>_<b>_<c>_<d>_<e>" with the block_len index folded into the last
// position only when the cell's shuffle/bootstrap selection makes block_len
// meaningful; otherwise the 6th position is omitted.
func (c Cell) ID() string {
	k := c.Key
	if blockRelevant(c.Params.ShuffleMode, c.Params.BootstrapMode) {
		return fmt.Sprintf("%d_%d_%d_%d_%d_%d", k.PSkipIdx, k.SlipIdx, k.DelayIdx, k.ShuffleIdx, k.BootstrapIdx, k.BlockLenIdx)
	}
	return fmt.Sprintf("%d_%d_%d_%d_%d", k.PSkipIdx, k.SlipIdx, k.DelayIdx, k.ShuffleIdx, k.BootstrapIdx)
}

// Enumerate walks the Cartesian product of spec's axes, skips degenerate
// combinations, and applies filters, returning the resulting cells in a
// stable, deterministic order (ascending index tuple).
func Enumerate(spec Spec, filters Filters) []Cell {
	var cells []Cell

	for pi, pskip := range spec.PSkip {
		for si, slip := range spec.SlipMax {
			if !filters.IncludeZeroSlip && slip == 0 {
				continue
			}
			if filters.SlipMin >= 0 && slip < filters.SlipMin {
				continue
			}
			if filters.SlipMax >= 0 && slip > filters.SlipMax {
				continue
			}
			for di, delay := range spec.DelayBarsMax {
				if filters.FixedDelay >= 0 && delay != filters.FixedDelay {
					continue
				}
				for shi, shuffle := range spec.ShuffleModes {
					for bi, bootstrap := range spec.BootstrapModes {
						relevant := blockRelevant(shuffle, bootstrap)
						blockLens := spec.BlockLens
						if !relevant {
							// Block length does not affect the outcome;
							// enumerating every value would just duplicate
							// the same cell, so collapse to a single
							// representative (index 0).
							blockLens = blockLens[:1]
						}
						for bli, blockLen := range blockLens {
							key := model.CellKey{
								PSkipIdx:     pi,
								SlipIdx:      si,
								DelayIdx:     di,
								ShuffleIdx:   shi,
								BootstrapIdx: bi,
								BlockLenIdx:  bli,
							}
							params := model.CellParams{
								PSkip:            pskip,
								SlipMax:          slip,
								SlipUnits:        spec.SlipUnits,
								DelayBarsMax:     delay,
								DelaySideMode:    spec.DelaySideMode,
								ShuffleMode:      shuffle,
								BootstrapMode:    bootstrap,
								BlockLen:         blockLen,
								IntensityMode:    spec.IntensityMode,
								MinTrades:        spec.MinTrades,
								DelayAdverseCapR: spec.DelayAdverseCapR,
							}
							cells = append(cells, Cell{Key: key, Params: params})
							if !relevant {
								break
							}
						}
					}
				}
			}
		}
	}

	return cells
}
